package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/models"
)

var errBadCredentials = core.WithDetail(core.ErrUnauthorized, "Invalid email or password")

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	GradeLevel string `json:"grade_level"`
	School     string `json:"school"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		// bcrypt ignores bytes past 72.
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.GradeLevel, validation.Required),
		validation.Field(&r.School, validation.Required),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

type StudentService struct {
	db     core.DbClient
	tokens *auth.TokenService
	cost   int
}

func NewStudentService(db core.DbClient, tokens *auth.TokenService) *StudentService {
	return &StudentService{db: db, tokens: tokens, cost: bcrypt.DefaultCost}
}

// WithHashCost lowers the bcrypt cost; tests use bcrypt.MinCost.
func (s *StudentService) WithHashCost(cost int) *StudentService {
	s.cost = cost
	return s
}

// Register creates the student and returns a fresh student token.
func (s *StudentService) Register(ctx context.Context, req RegisterRequest) (string, *models.Student, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	_, err := s.db.GetStudentByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return "", nil, core.WithDetail(core.ErrConflict, "Email already registered")
	case !errors.Is(err, core.ErrNotFound):
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	student := &models.Student{
		ID:         uuid.NewString(),
		Email:      req.Email,
		Password:   string(hash),
		Name:       strings.TrimSpace(req.Name),
		GradeLevel: req.GradeLevel,
		School:     req.School,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return "", nil, core.WithDetail(core.ErrConflict, "Email already registered")
		}
		return "", nil, err
	}

	token, err := s.tokens.IssueDefault(student.ID, auth.RoleStudent)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, student, nil
}

// Login checks the password against the stored bcrypt hash. Unknown email and wrong
// password produce the same error.
func (s *StudentService) Login(ctx context.Context, req LoginRequest) (string, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	student, err := s.db.GetStudentByEmail(ctx, req.Email)
	if errors.Is(err, core.ErrNotFound) {
		return "", errBadCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(student.Password), []byte(req.Password)) != nil {
		return "", errBadCredentials
	}

	return s.tokens.IssueDefault(student.ID, auth.RoleStudent)
}
