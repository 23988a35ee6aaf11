package ingestion_engine

import (
	"bufio"
	"context"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// streamExtract converts an io.Reader into a stream of small text fragments.
//
// r:           the text source (a resource's title, description and body).
// maxFragLen:  soft cap; long lines are split into multiple fragments.
// out:         receive-only channel of fragments; closed when extraction completes.
func (i *ResourceIndexer) streamExtract(
	ctx context.Context,
	g *errgroup.Group,
	r io.Reader,
	maxFragLen int,
) <-chan string {
	out := make(chan string, 8)

	g.Go(func() error {
		defer close(out)

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

		emit := func(frag string) error {
			select {
			case out <- frag:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}

			runes := []rune(line)
			for len(runes) > maxFragLen {
				if err := emit(string(runes[:maxFragLen])); err != nil {
					return err
				}
				runes = runes[maxFragLen:]
			}
			if err := emit(string(runes)); err != nil {
				return err
			}
		}
		return sc.Err()
	})

	return out
}
