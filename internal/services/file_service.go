package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
)

const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// FileContent is a file's metadata plus its body rendered as text.
// Binary bodies that cannot be extracted are base64 encoded.
type FileContent struct {
	Content  string            `json:"content"`
	Encoding string            `json:"encoding"`
	Metadata models.FileRecord `json:"metadata"`
}

type FileService struct {
	db        core.DbClient
	storage   core.ObjectClient
	extractor core.TextExtractor
	maxBytes  int64
	log       *logger.Logger
}

func NewFileService(db core.DbClient, storage core.ObjectClient, extractor core.TextExtractor, maxBytes int64, log *logger.Logger) *FileService {
	return &FileService{db: db, storage: storage, extractor: extractor, maxBytes: maxBytes, log: log}
}

// Upload writes the blob, then the metadata row. If the row insert fails the blob is
// removed again; if that removal fails too, a PartialWriteError names the orphan.
func (s *FileService) Upload(ctx context.Context, p auth.Principal, filename, contentType string, data []byte) (*models.FileRecord, error) {
	filename = cleanFilename(filename)
	if filename == "" {
		return nil, core.WithDetail(core.ErrValidation, "No file provided")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, core.WithDetail(core.ErrValidation, fmt.Sprintf("File exceeds the %d MB upload limit", s.maxBytes>>20))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	key := objectKey(p.ID, id, filename)

	if err := s.storage.Upload(ctx, key, data, contentType); err != nil {
		return nil, core.WithDetail(err, "Failed to upload file")
	}

	rec := &models.FileRecord{
		ID:          id,
		Name:        filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		StudentID:   p.ID,
		StoragePath: key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.CreateFile(ctx, rec); err != nil {
		// Compensate with a fresh context; the request context may be what failed.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rmErr := s.storage.Remove(cctx, key); rmErr != nil {
			s.log.Error("orphaned blob after failed metadata insert", "storage_path", key, "error", rmErr)
			return nil, core.WithDetail(&core.PartialWriteError{
				Step:      "insert file metadata",
				Committed: "blob " + key,
				Err:       errors.Join(err, rmErr),
			}, "Failed to store file metadata")
		}
		return nil, core.WithDetail(core.StoreErr("insert file metadata", err), "Failed to store file metadata")
	}
	return rec, nil
}

func (s *FileService) List(ctx context.Context, p auth.Principal) ([]models.FileRecord, error) {
	return s.db.ListFilesByStudent(ctx, p.ID)
}

func (s *FileService) ownedFile(ctx context.Context, p auth.Principal, fileID string) (*models.FileRecord, error) {
	f, err := s.db.GetFileByID(ctx, fileID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if err := auth.AuthorizeFile(p, f); err != nil {
		return nil, core.WithDetail(err, "File not found")
	}
	return f, nil
}

// Download returns the raw blob of an owned file.
func (s *FileService) Download(ctx context.Context, p auth.Principal, fileID string) (*models.FileRecord, []byte, error) {
	f, err := s.ownedFile(ctx, p, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.storage.Download(ctx, f.StoragePath)
	if err != nil {
		// A row without its blob is a storage fault, not a missing file.
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("%w: blob %s missing", core.ErrStoreFailure, f.StoragePath)
		}
		return nil, nil, core.WithDetail(err, "Failed to retrieve file content")
	}
	return f, data, nil
}

// Content renders an owned file as text: UTF-8 bodies as is, documents through the
// extractor, and anything else base64 encoded.
func (s *FileService) Content(ctx context.Context, p auth.Principal, fileID string) (*FileContent, error) {
	f, data, err := s.Download(ctx, p, fileID)
	if err != nil {
		return nil, err
	}

	out := &FileContent{Metadata: *f, Encoding: EncodingText}
	ct := baseContentType(f.ContentType)
	switch {
	case s.extractor != nil && s.extractor.Supports(ct):
		text, err := s.extractor.ExtractText(ctx, data, ct)
		if err == nil {
			out.Content = text
			return out, nil
		}
		s.log.Warn("text extraction failed, returning base64", "file_id", f.ID, "content_type", ct, "error", err)
		out.Content, out.Encoding = base64.StdEncoding.EncodeToString(data), EncodingBase64
	case utf8.Valid(data):
		out.Content = string(data)
	default:
		out.Content, out.Encoding = base64.StdEncoding.EncodeToString(data), EncodingBase64
	}
	return out, nil
}

// Delete removes the blob, then the metadata row. A row delete failure after the
// blob is gone is reported as a PartialWriteError.
func (s *FileService) Delete(ctx context.Context, p auth.Principal, fileID string) error {
	f, err := s.ownedFile(ctx, p, fileID)
	if err != nil {
		return err
	}
	if err := s.storage.Remove(ctx, f.StoragePath); err != nil {
		return core.WithDetail(err, "Failed to delete file from storage")
	}
	if err := s.db.DeleteFile(ctx, f.ID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted concurrently; the end state is the one asked for.
			return nil
		}
		s.log.Error("file row left without blob", "file_id", f.ID, "storage_path", f.StoragePath, "error", err)
		return core.WithDetail(&core.PartialWriteError{
			Step:      "delete file metadata",
			Committed: "blob removal " + f.StoragePath,
			Err:       err,
		}, "Failed to delete file metadata")
	}
	return nil
}

// objectKey creates a consistent storage key layout.
func objectKey(studentID, fileID, filename string) string {
	return path.Join(studentID, fileID, filename)
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
