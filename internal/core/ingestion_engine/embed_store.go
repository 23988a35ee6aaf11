package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gurnoornatt/code-chat/internal/models"
)

// embedAndPersist consumes chunks, embeds them in batches, and swaps the resource's
// chunk set in one write once the stream is drained.
//
// resourceID: current resource ID.
// in:         chunk stream from streamChunk.
// batchSize:  number of chunks per embedding request (limits request size).
func (i *ResourceIndexer) embedAndPersist(
	ctx context.Context,
	resourceID string,
	in <-chan chunk,
	batchSize int,
) error {
	var (
		rows  []models.ResourceChunk
		batch = make([]chunk, 0, batchSize)
		now   = time.Now().UTC()
	)

	embed := func(items []chunk) error {
		if len(items) == 0 {
			return nil
		}

		texts := make([]string, len(items))
		for idx := range items {
			texts[idx] = items[idx].Text
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(items) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
		}

		for k := range items {
			rows = append(rows, models.ResourceChunk{
				ID:         uuid.NewString(),
				ResourceID: resourceID,
				Text:       items[k].Text,
				Embedding:  vecs[k],
				Position:   items[k].Pos,
				TokenCount: items[k].TokenCnt,
				CreatedAt:  now,
			})
		}
		return nil
	}

	for c := range in {
		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := embed(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := embed(batch); err != nil {
		return err
	}

	if err := i.db.ReplaceResourceChunks(ctx, resourceID, rows); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	return nil
}
