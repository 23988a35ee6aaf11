package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

type ResourceRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	FileType    string   `json:"file_type"`
	Tags        []string `json:"tags"`
}

func (r ResourceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 300)),
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.FileType, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.Tags, validation.Each(validation.Required, validation.Length(1, 50))),
	)
}

type ResourceService struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	indexer  core.ResourceIndexer
	log      *logger.Logger
}

// NewResourceService wires the library. embedder may be nil; search then uses text matching only.
func NewResourceService(db core.DbClient, embedder core.EmbeddingProvider, indexer core.ResourceIndexer, log *logger.Logger) *ResourceService {
	return &ResourceService{db: db, embedder: embedder, indexer: indexer, log: log}
}

func (s *ResourceService) Create(ctx context.Context, p auth.Principal, req ResourceRequest) (*models.Resource, error) {
	if err := auth.AuthorizeResourceWrite(p); err != nil {
		return nil, err
	}
	req.Tags = normalizeTags(req.Tags)
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	now := time.Now().UTC()
	r := &models.Resource{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Content:     req.Content,
		FileType:    req.FileType,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateResource(ctx, r); err != nil {
		return nil, core.WithDetail(err, "Failed to create resource")
	}
	s.index(r.ID)
	return r, nil
}

func (s *ResourceService) List(ctx context.Context) ([]models.Resource, error) {
	return s.db.ListResources(ctx)
}

func (s *ResourceService) Get(ctx context.Context, id string) (*models.Resource, error) {
	r, err := s.db.GetResourceByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.WithDetail(err, "Resource not found")
	}
	return r, err
}

// Update replaces every field and bumps updated_at.
func (s *ResourceService) Update(ctx context.Context, p auth.Principal, id string, req ResourceRequest) (*models.Resource, error) {
	if err := auth.AuthorizeResourceWrite(p); err != nil {
		return nil, err
	}
	req.Tags = normalizeTags(req.Tags)
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	r := &models.Resource{
		ID:          id,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Content:     req.Content,
		FileType:    req.FileType,
		Tags:        req.Tags,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.db.UpdateResource(ctx, r); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.WithDetail(err, "Resource not found")
		}
		return nil, core.WithDetail(err, "Failed to update resource")
	}
	s.index(r.ID)
	return r, nil
}

func (s *ResourceService) Delete(ctx context.Context, p auth.Principal, id string) error {
	if err := auth.AuthorizeResourceWrite(p); err != nil {
		return err
	}
	if err := s.db.DeleteResource(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.WithDetail(err, "Resource not found")
		}
		return core.WithDetail(err, "Failed to delete resource")
	}
	return nil
}

func (s *ResourceService) SearchByTag(ctx context.Context, tag string) ([]models.Resource, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, core.WithDetail(core.ErrValidation, "tag is required")
	}
	return s.db.ListResourcesByTag(ctx, tag)
}

// Search combines nearest-chunk ranking with a case-insensitive text match, so resources
// that are not indexed yet still show up. Without an embedder only the text match runs.
func (s *ResourceService) Search(ctx context.Context, query string, limit int) ([]models.Resource, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.WithDetail(core.ErrValidation, "q is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var semantic []models.Resource
	if s.embedder != nil {
		hits, err := s.semanticSearch(ctx, query, limit)
		if err != nil {
			s.log.Warn("semantic search failed, using text search", "error", err)
		}
		semantic = hits
	}

	// Resources whose indexing is queued, dropped or failed have no chunks, so the
	// text match always runs alongside the vector search.
	text, err := s.db.SearchResourcesByText(ctx, query, limit)
	if err != nil {
		if len(semantic) > 0 {
			s.log.Warn("text search failed, returning semantic hits only", "error", err)
			return semantic, nil
		}
		return nil, err
	}
	return rankResults(semantic, text, limit), nil
}

// rankResults puts semantic hits that also match the text first, then the remaining
// text matches, then the remaining semantic hits, capped at limit.
func rankResults(semantic, text []models.Resource, limit int) []models.Resource {
	matched := make(map[string]bool, len(text))
	for _, r := range text {
		matched[r.ID] = true
	}
	var both, semanticOnly []models.Resource
	for _, r := range semantic {
		if matched[r.ID] {
			both = append(both, r)
		} else {
			semanticOnly = append(semanticOnly, r)
		}
	}
	return mergeResources(limit, both, text, semanticOnly)
}

// mergeResources concatenates lists, skipping ids already taken, up to limit.
func mergeResources(limit int, lists ...[]models.Resource) []models.Resource {
	out := make([]models.Resource, 0, limit)
	seen := make(map[string]bool, limit)
	for _, list := range lists {
		for _, r := range list {
			if len(out) == limit {
				return out
			}
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

func (s *ResourceService) semanticSearch(ctx context.Context, query string, limit int) ([]models.Resource, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", core.ErrUpstream)
	}

	// Several chunks usually belong to one resource; over-fetch before de-duplicating.
	chunks, err := s.db.SearchResourceChunks(ctx, vecs[0], limit*4)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, limit)
	out := []models.Resource{}
	for _, ch := range chunks {
		if seen[ch.ResourceID] {
			continue
		}
		seen[ch.ResourceID] = true
		r, err := s.db.GetResourceByID(ctx, ch.ResourceID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *ResourceService) index(id string) {
	if s.indexer == nil {
		return
	}
	s.indexer.Enqueue(id)
}

// normalizeTags trims, drops empties and de-duplicates while keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
