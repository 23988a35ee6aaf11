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

const tutorSystemPrompt = `You are a patient programming tutor helping a student.
Guide the student toward the answer with hints and questions before giving full solutions.
Refer to the student's code when it is provided. Keep answers short and concrete.`

// transcriptLimit caps how many earlier messages are replayed to the tutor.
const transcriptLimit = 20

type CreateQuestionRequest struct {
	QuestionText string  `json:"question_text"`
	CodeContext  *string `json:"code_context"`
}

func (r CreateQuestionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.QuestionText, validation.Required, validation.Length(1, 10000)),
		validation.Field(&r.CodeContext, validation.NilOrNotEmpty, validation.Length(0, 50000)),
	)
}

type AskRequest struct {
	MessageText string `json:"message_text"`
}

type FeedbackRequest struct {
	ResponseID string  `json:"response_id"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment"`
}

type ChatService struct {
	db    core.DbClient
	tutor core.LLMProvider
	log   *logger.Logger
}

// NewChatService wires the chat flows. tutor may be nil, in which case Ask fails with ErrUpstream.
func NewChatService(db core.DbClient, tutor core.LLMProvider, log *logger.Logger) *ChatService {
	return &ChatService{db: db, tutor: tutor, log: log}
}

// CreateQuestion stores the question and its opening student message atomically.
func (s *ChatService) CreateQuestion(ctx context.Context, p auth.Principal, req CreateQuestionRequest) (*models.Question, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	now := time.Now().UTC()
	q := &models.Question{
		ID:           uuid.NewString(),
		StudentID:    p.ID,
		QuestionText: req.QuestionText,
		CodeContext:  req.CodeContext,
		CreatedAt:    now,
	}
	first := &models.ConversationMessage{
		ID:          uuid.NewString(),
		StudentID:   p.ID,
		QuestionID:  q.ID,
		MessageType: models.MessageStudent,
		MessageText: req.QuestionText,
		CreatedAt:   now,
	}
	if err := s.db.CreateQuestionWithMessage(ctx, q, first); err != nil {
		return nil, core.WithDetail(err, "Failed to create question")
	}
	return q, nil
}

func (s *ChatService) ListQuestions(ctx context.Context, p auth.Principal) ([]models.Question, error) {
	return s.db.ListQuestionsByStudent(ctx, p.ID)
}

// ownedQuestion loads a question and applies the ownership policy; both a missing
// and a foreign question read as "Question not found".
func (s *ChatService) ownedQuestion(ctx context.Context, p auth.Principal, questionID string) (*models.Question, error) {
	q, err := s.db.GetQuestionByID(ctx, questionID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if err := auth.AuthorizeQuestion(p, q); err != nil {
		return nil, core.WithDetail(err, "Question not found")
	}
	return q, nil
}

func (s *ChatService) SetResolved(ctx context.Context, p auth.Principal, questionID string, resolved bool) (*models.Question, error) {
	if _, err := s.ownedQuestion(ctx, p, questionID); err != nil {
		return nil, err
	}
	q, err := s.db.SetQuestionResolved(ctx, questionID, resolved)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.WithDetail(err, "Question not found")
	}
	return q, err
}

// Conversation returns the transcript in created_at order.
func (s *ChatService) Conversation(ctx context.Context, p auth.Principal, questionID string) ([]models.ConversationMessage, error) {
	if _, err := s.ownedQuestion(ctx, p, questionID); err != nil {
		return nil, err
	}
	return s.db.ListConversationMessages(ctx, questionID)
}

// Ask appends an optional follow-up from the student, then stores the tutor's reply.
// A tutor failure leaves the follow-up in place; the transcript stays consistent.
func (s *ChatService) Ask(ctx context.Context, p auth.Principal, questionID string, req AskRequest) ([]models.ConversationMessage, error) {
	q, err := s.ownedQuestion(ctx, p, questionID)
	if err != nil {
		return nil, err
	}
	if s.tutor == nil {
		return nil, core.WithDetail(core.ErrUpstream, "AI tutor is not configured")
	}

	var created []models.ConversationMessage
	last := q.CreatedAt
	if text := strings.TrimSpace(req.MessageText); text != "" {
		msg := &models.ConversationMessage{
			ID:          uuid.NewString(),
			StudentID:   p.ID,
			QuestionID:  q.ID,
			MessageType: models.MessageStudent,
			MessageText: text,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.db.CreateConversationMessage(ctx, msg); err != nil {
			return nil, err
		}
		created = append(created, *msg)
	}

	transcript, err := s.db.ListConversationMessages(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	if n := len(transcript); n > 0 {
		last = transcript[n-1].CreatedAt
	}

	answer, err := s.tutor.Generate(ctx, tutorSystemPrompt, buildTutorPrompt(q, transcript))
	if err != nil {
		s.log.Error("tutor generate failed", "question_id", q.ID, "error", err)
		if !errors.Is(err, core.ErrUpstream) {
			err = fmt.Errorf("%w: %v", core.ErrUpstream, err)
		}
		return nil, core.WithDetail(err, "AI tutor is unavailable")
	}
	if strings.TrimSpace(answer) == "" {
		return nil, core.WithDetail(core.ErrUpstream, "AI tutor returned an empty reply")
	}

	reply := &models.ConversationMessage{
		ID:          uuid.NewString(),
		StudentID:   p.ID,
		QuestionID:  q.ID,
		MessageType: models.MessageAI,
		MessageText: answer,
		CreatedAt:   strictlyAfter(time.Now().UTC(), last),
	}
	if err := s.db.CreateConversationMessage(ctx, reply); err != nil {
		return nil, err
	}
	return append(created, *reply), nil
}

// SubmitFeedback rates an ai reply on one of the student's own questions.
func (s *ChatService) SubmitFeedback(ctx context.Context, p auth.Principal, questionID string, req FeedbackRequest) (*models.Feedback, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, core.WithDetail(core.ErrValidation, "Rating must be between 1 and 5")
	}
	if strings.TrimSpace(req.ResponseID) == "" {
		return nil, core.WithDetail(core.ErrValidation, "response_id is required")
	}

	q, err := s.ownedQuestion(ctx, p, questionID)
	if err != nil {
		return nil, err
	}

	msg, err := s.db.GetConversationMessage(ctx, req.ResponseID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if err := auth.AuthorizeFeedback(p, q, msg); err != nil {
		return nil, core.WithDetail(err, "Response not found")
	}

	fb := &models.Feedback{
		ID:         uuid.NewString(),
		ResponseID: msg.ID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		StudentID:  p.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.CreateFeedback(ctx, fb); err != nil {
		return nil, core.WithDetail(err, "Failed to submit feedback")
	}
	return fb, nil
}

func buildTutorPrompt(q *models.Question, transcript []models.ConversationMessage) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(q.QuestionText)
	if q.CodeContext != nil && *q.CodeContext != "" {
		sb.WriteString("\n\nStudent code:\n```\n")
		sb.WriteString(*q.CodeContext)
		sb.WriteString("\n```")
	}
	if len(transcript) > transcriptLimit {
		transcript = transcript[len(transcript)-transcriptLimit:]
	}
	if len(transcript) > 0 {
		sb.WriteString("\n\nConversation so far:\n")
		for _, m := range transcript {
			speaker := "Student"
			if m.MessageType == models.MessageAI {
				speaker = "Tutor"
			}
			fmt.Fprintf(&sb, "%s: %s\n", speaker, m.MessageText)
		}
	}
	sb.WriteString("\nReply as the tutor.")
	return sb.String()
}

// strictlyAfter keeps the reply ordered after the last transcript entry at microsecond precision.
func strictlyAfter(t, last time.Time) time.Time {
	if floor := last.Add(time.Microsecond); t.Before(floor) {
		return floor
	}
	return t
}
