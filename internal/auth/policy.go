package auth

import (
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/models"
)

func OwnsQuestion(p Principal, q *models.Question) bool {
	return q != nil && p.ID != "" && p.ID == q.StudentID
}

func OwnsFile(p Principal, f *models.FileRecord) bool {
	return f != nil && p.ID != "" && p.ID == f.StudentID
}

// CanSubmitFeedback holds only for an ai message on a question the principal owns.
func CanSubmitFeedback(p Principal, q *models.Question, m *models.ConversationMessage) bool {
	return OwnsQuestion(p, q) &&
		m != nil &&
		m.QuestionID == q.ID &&
		m.MessageType == models.MessageAI
}

func CanWriteResource(p Principal) bool {
	return p.Role == RoleAdmin
}

// Ownership violations surface as ErrNotFound so a non-owner cannot learn whether the resource exists.
// Role violations surface as ErrForbidden.

func AuthorizeQuestion(p Principal, q *models.Question) error {
	if !OwnsQuestion(p, q) {
		return core.ErrNotFound
	}
	return nil
}

func AuthorizeFile(p Principal, f *models.FileRecord) error {
	if !OwnsFile(p, f) {
		return core.ErrNotFound
	}
	return nil
}

func AuthorizeFeedback(p Principal, q *models.Question, m *models.ConversationMessage) error {
	if !CanSubmitFeedback(p, q, m) {
		return core.ErrNotFound
	}
	return nil
}

func AuthorizeResourceWrite(p Principal) error {
	if !CanWriteResource(p) {
		return core.ErrForbidden
	}
	return nil
}
