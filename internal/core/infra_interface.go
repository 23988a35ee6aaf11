package core

import (
	"context"

	"github.com/gurnoornatt/code-chat/internal/models"
)

// DbClient defines all persistence operations the services need.
// Lookups return ErrNotFound when no row matches. Other failures wrap ErrStoreFailure.
type DbClient interface {
	CreateStudent(ctx context.Context, student *models.Student) error
	GetStudentByEmail(ctx context.Context, email string) (*models.Student, error)
	GetStudentByID(ctx context.Context, id string) (*models.Student, error)
	StudentExists(ctx context.Context, id string) (bool, error)

	// CreateQuestionWithMessage stores a question and its opening student message in one transaction.
	CreateQuestionWithMessage(ctx context.Context, q *models.Question, first *models.ConversationMessage) error
	GetQuestionByID(ctx context.Context, id string) (*models.Question, error)
	ListQuestionsByStudent(ctx context.Context, studentID string) ([]models.Question, error)
	SetQuestionResolved(ctx context.Context, id string, resolved bool) (*models.Question, error)

	CreateConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
	GetConversationMessage(ctx context.Context, id string) (*models.ConversationMessage, error)
	// ListConversationMessages returns the transcript ordered by created_at ascending.
	ListConversationMessages(ctx context.Context, questionID string) ([]models.ConversationMessage, error)

	CreateFeedback(ctx context.Context, fb *models.Feedback) error

	CreateFile(ctx context.Context, f *models.FileRecord) error
	GetFileByID(ctx context.Context, id string) (*models.FileRecord, error)
	ListFilesByStudent(ctx context.Context, studentID string) ([]models.FileRecord, error)
	DeleteFile(ctx context.Context, id string) error

	CreateResource(ctx context.Context, r *models.Resource) error
	GetResourceByID(ctx context.Context, id string) (*models.Resource, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
	UpdateResource(ctx context.Context, r *models.Resource) error
	DeleteResource(ctx context.Context, id string) error
	ListResourcesByTag(ctx context.Context, tag string) ([]models.Resource, error)
	SearchResourcesByText(ctx context.Context, query string, limit int) ([]models.Resource, error)

	// ReplaceResourceChunks swaps a resource's chunk set in one transaction.
	ReplaceResourceChunks(ctx context.Context, resourceID string, chunks []models.ResourceChunk) error
	// SearchResourceChunks returns the nearest chunks to queryVec across all resources.
	SearchResourceChunks(ctx context.Context, queryVec []float32, limit int) ([]models.ResourceChunk, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any S3-compatible object storage.
type ObjectClient interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	// Download returns ErrNotFound when no object exists at key.
	Download(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, keys ...string) error
}
