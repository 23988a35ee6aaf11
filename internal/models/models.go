package models

import (
	"time"
)

// MessageType tags a conversation message with its author.
type MessageType string

const (
	MessageStudent MessageType = "student"
	MessageAI      MessageType = "ai"
)

// Student is a registered learner. Password holds a bcrypt hash.
type Student struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Password   string    `db:"password" json:"-"`
	Name       string    `db:"name" json:"name"`
	GradeLevel string    `db:"grade_level" json:"grade_level"`
	School     string    `db:"school" json:"school"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Question is owned by the student who asked it.
type Question struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	QuestionText string    `db:"question_text" json:"question_text"`
	CodeContext  *string   `db:"code_context" json:"code_context"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Resolved     bool      `db:"resolved" json:"resolved"`
}

// ConversationMessage is one entry of a question's transcript.
type ConversationMessage struct {
	ID          string      `db:"id" json:"id"`
	StudentID   string      `db:"student_id" json:"student_id"`
	QuestionID  string      `db:"question_id" json:"question_id"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	MessageText string      `db:"message_text" json:"message_text"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Feedback rates an ai message. ResponseID points at a ConversationMessage.
type Feedback struct {
	ID         string    `db:"id" json:"id"`
	ResponseID string    `db:"response_id" json:"response_id"`
	Rating     int       `db:"rating" json:"rating"`
	Comment    *string   `db:"comment" json:"comment"`
	StudentID  string    `db:"student_id" json:"student_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FileRecord is the metadata row of an uploaded blob stored at StoragePath.
type FileRecord struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size" json:"size"`
	StudentID   string    `db:"student_id" json:"student_id"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Resource is an admin-curated library entry. It has no owner.
type Resource struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Content     string    `db:"content" json:"content"`
	FileType    string    `db:"file_type" json:"file_type"`
	Tags        []string  `db:"tags" json:"tags"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ResourceChunk represents one embedded text chunk of a resource.
type ResourceChunk struct {
	ID         string    `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"embedding"` // pgvector column
	Position   int       `db:"position" json:"position"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
