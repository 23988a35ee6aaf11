package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gurnoornatt/code-chat/internal/config"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends verify-ca parameters when a root certificate is configured.
func buildDSN(databaseURL, certPath string) (string, error) {
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Students

func (c *DatabaseClient) CreateStudent(ctx context.Context, s *models.Student) error {
	if s == nil {
		return errors.New("nil student")
	}
	const q = `
		INSERT INTO students (id, email, password, name, grade_level, school, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q,
		s.ID, s.Email, s.Password, s.Name, s.GradeLevel, s.School, s.CreatedAt)
	if isPgDuplicateError(err) {
		return fmt.Errorf("student %s: %w", s.Email, core.ErrConflict)
	}
	return core.StoreErr("insert student", err)
}

const studentColumns = `id, email, password, name, grade_level, school, created_at`

func (c *DatabaseClient) GetStudentByEmail(ctx context.Context, email string) (*models.Student, error) {
	return c.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE email = $1`, email)
}

func (c *DatabaseClient) GetStudentByID(ctx context.Context, id string) (*models.Student, error) {
	return c.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

func (c *DatabaseClient) getStudent(ctx context.Context, q string, arg string) (*models.Student, error) {
	var s models.Student
	err := c.db.QueryRowContext(ctx, q, arg).Scan(
		&s.ID, &s.Email, &s.Password, &s.Name, &s.GradeLevel, &s.School, &s.CreatedAt,
	)
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("get student", err)
	}
	return &s, nil
}

func (c *DatabaseClient) StudentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, core.StoreErr("student exists", err)
	}
	return exists, nil
}

// Questions and conversations

func (c *DatabaseClient) CreateQuestionWithMessage(ctx context.Context, q *models.Question, first *models.ConversationMessage) error {
	if q == nil || first == nil {
		return errors.New("nil question or message")
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return core.StoreErr("begin question tx", err)
	}

	const insertQuestion = `
		INSERT INTO questions (id, student_id, question_text, code_context, created_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.ExecContext(ctx, insertQuestion,
		q.ID, q.StudentID, q.QuestionText, q.CodeContext, q.CreatedAt, q.Resolved,
	); err != nil {
		_ = tx.Rollback()
		return core.StoreErr("insert question", err)
	}
	if err := insertMessage(ctx, tx, first); err != nil {
		_ = tx.Rollback()
		return core.StoreErr("insert first message", err)
	}
	if err := tx.Commit(); err != nil {
		return core.StoreErr("commit question tx", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, ex execer, m *models.ConversationMessage) error {
	const q = `
		INSERT INTO conversations (id, student_id, question_id, message_type, message_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := ex.ExecContext(ctx, q,
		m.ID, m.StudentID, m.QuestionID, string(m.MessageType), m.MessageText, m.CreatedAt)
	return err
}

const questionColumns = `id, student_id, question_text, code_context, created_at, resolved`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (*models.Question, error) {
	var (
		q   models.Question
		ctx sql.NullString
	)
	if err := r.Scan(&q.ID, &q.StudentID, &q.QuestionText, &ctx, &q.CreatedAt, &q.Resolved); err != nil {
		return nil, err
	}
	if ctx.Valid {
		q.CodeContext = &ctx.String
	}
	return &q, nil
}

func (c *DatabaseClient) GetQuestionByID(ctx context.Context, id string) (*models.Question, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("get question", err)
	}
	return q, nil
}

func (c *DatabaseClient) ListQuestionsByStudent(ctx context.Context, studentID string) ([]models.Question, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, core.StoreErr("list questions", err)
	}
	defer rows.Close()

	out := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, core.StoreErr("scan question", err)
		}
		out = append(out, *q)
	}
	return out, core.StoreErr("list questions", rows.Err())
}

func (c *DatabaseClient) SetQuestionResolved(ctx context.Context, id string, resolved bool) (*models.Question, error) {
	row := c.db.QueryRowContext(ctx,
		`UPDATE questions SET resolved = $2 WHERE id = $1 RETURNING `+questionColumns, id, resolved)
	q, err := scanQuestion(row)
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("update question", err)
	}
	return q, nil
}

func (c *DatabaseClient) CreateConversationMessage(ctx context.Context, m *models.ConversationMessage) error {
	if m == nil {
		return errors.New("nil message")
	}
	return core.StoreErr("insert message", insertMessage(ctx, c.db, m))
}

const messageColumns = `id, student_id, question_id, message_type, message_text, created_at`

func scanMessage(r rowScanner) (*models.ConversationMessage, error) {
	var (
		m  models.ConversationMessage
		mt string
	)
	if err := r.Scan(&m.ID, &m.StudentID, &m.QuestionID, &mt, &m.MessageText, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.MessageType = models.MessageType(mt)
	return &m, nil
}

func (c *DatabaseClient) GetConversationMessage(ctx context.Context, id string) (*models.ConversationMessage, error) {
	m, err := scanMessage(c.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM conversations WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("get message", err)
	}
	return m, nil
}

// seq breaks ties between messages written within the same timestamp tick.
const listMessagesQuery = `SELECT ` + messageColumns + ` FROM conversations WHERE question_id = $1 ORDER BY created_at ASC, seq ASC`

func (c *DatabaseClient) ListConversationMessages(ctx context.Context, questionID string) ([]models.ConversationMessage, error) {
	rows, err := c.db.QueryContext(ctx, listMessagesQuery, questionID)
	if err != nil {
		return nil, core.StoreErr("list messages", err)
	}
	defer rows.Close()

	out := []models.ConversationMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, core.StoreErr("scan message", err)
		}
		out = append(out, *m)
	}
	return out, core.StoreErr("list messages", rows.Err())
}

// Feedback

func (c *DatabaseClient) CreateFeedback(ctx context.Context, fb *models.Feedback) error {
	if fb == nil {
		return errors.New("nil feedback")
	}
	const q = `
		INSERT INTO feedback (id, response_id, rating, comment, student_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, q, fb.ID, fb.ResponseID, fb.Rating, fb.Comment, fb.StudentID, fb.CreatedAt)
	return core.StoreErr("insert feedback", err)
}

// Files

func (c *DatabaseClient) CreateFile(ctx context.Context, f *models.FileRecord) error {
	if f == nil {
		return errors.New("nil file")
	}
	const q = `
		INSERT INTO files (id, name, content_type, size, student_id, storage_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q, f.ID, f.Name, f.ContentType, f.Size, f.StudentID, f.StoragePath, f.CreatedAt)
	return core.StoreErr("insert file", err)
}

const fileColumns = `id, name, content_type, size, student_id, storage_path, created_at`

func scanFile(r rowScanner) (*models.FileRecord, error) {
	var f models.FileRecord
	if err := r.Scan(&f.ID, &f.Name, &f.ContentType, &f.Size, &f.StudentID, &f.StoragePath, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) GetFileByID(ctx context.Context, id string) (*models.FileRecord, error) {
	f, err := scanFile(c.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("get file", err)
	}
	return f, nil
}

func (c *DatabaseClient) ListFilesByStudent(ctx context.Context, studentID string) ([]models.FileRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, core.StoreErr("list files", err)
	}
	defer rows.Close()

	out := []models.FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, core.StoreErr("scan file", err)
		}
		out = append(out, *f)
	}
	return out, core.StoreErr("list files", rows.Err())
}

func (c *DatabaseClient) DeleteFile(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return core.StoreErr("delete file", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Resources

func (c *DatabaseClient) CreateResource(ctx context.Context, r *models.Resource) error {
	if r == nil {
		return errors.New("nil resource")
	}
	const q = `
		INSERT INTO resources (id, title, description, content, file_type, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := c.db.ExecContext(ctx, q,
		r.ID, r.Title, r.Description, r.Content, r.FileType, nonNilTags(r.Tags), r.CreatedAt, r.UpdatedAt)
	return core.StoreErr("insert resource", err)
}

const resourceColumns = `id, title, description, content, file_type, tags, created_at, updated_at`

// scanResource reads text[] tags through a pgtype.Map; a Map is not safe for concurrent use.
func scanResource(m *pgtype.Map, r rowScanner) (*models.Resource, error) {
	var res models.Resource
	if err := r.Scan(
		&res.ID, &res.Title, &res.Description, &res.Content, &res.FileType,
		m.SQLScanner(&res.Tags), &res.CreatedAt, &res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.Tags = nonNilTags(res.Tags)
	return &res, nil
}

func (c *DatabaseClient) queryResources(ctx context.Context, op, q string, args ...any) ([]models.Resource, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.StoreErr(op, err)
	}
	defer rows.Close()

	m := pgtype.NewMap()
	out := []models.Resource{}
	for rows.Next() {
		r, err := scanResource(m, rows)
		if err != nil {
			return nil, core.StoreErr(op, err)
		}
		out = append(out, *r)
	}
	return out, core.StoreErr(op, rows.Err())
}

func (c *DatabaseClient) GetResourceByID(ctx context.Context, id string) (*models.Resource, error) {
	r, err := scanResource(pgtype.NewMap(), c.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.StoreErr("get resource", err)
	}
	return r, nil
}

func (c *DatabaseClient) ListResources(ctx context.Context) ([]models.Resource, error) {
	return c.queryResources(ctx, "list resources",
		`SELECT `+resourceColumns+` FROM resources ORDER BY created_at DESC`)
}

func (c *DatabaseClient) UpdateResource(ctx context.Context, r *models.Resource) error {
	if r == nil {
		return errors.New("nil resource")
	}
	const q = `
		UPDATE resources
		SET title = $2, description = $3, content = $4, file_type = $5, tags = $6, updated_at = $7
		WHERE id = $1
		RETURNING created_at
	`
	err := c.db.QueryRowContext(ctx, q,
		r.ID, r.Title, r.Description, r.Content, r.FileType, nonNilTags(r.Tags), r.UpdatedAt,
	).Scan(&r.CreatedAt)
	if isNoRows(err) {
		return core.ErrNotFound
	}
	return core.StoreErr("update resource", err)
}

func (c *DatabaseClient) DeleteResource(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return core.StoreErr("delete resource", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (c *DatabaseClient) ListResourcesByTag(ctx context.Context, tag string) ([]models.Resource, error) {
	return c.queryResources(ctx, "list resources by tag",
		`SELECT `+resourceColumns+` FROM resources WHERE $1 = ANY(tags) ORDER BY created_at DESC`, tag)
}

func (c *DatabaseClient) SearchResourcesByText(ctx context.Context, query string, limit int) ([]models.Resource, error) {
	return c.queryResources(ctx, "search resources",
		`SELECT `+resourceColumns+` FROM resources
		 WHERE title ILIKE '%' || $1 || '%' ESCAPE '\'
		    OR description ILIKE '%' || $1 || '%' ESCAPE '\'
		    OR content ILIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY updated_at DESC
		 LIMIT $2`, escapeLike(query), limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern using '\' as the escape character.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Resource chunks

// ReplaceResourceChunks deletes the old chunk set and inserts the new one in a single transaction.
func (c *DatabaseClient) ReplaceResourceChunks(ctx context.Context, resourceID string, chunks []models.ResourceChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return core.StoreErr("begin chunks tx", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_chunks WHERE resource_id = $1`, resourceID); err != nil {
		_ = tx.Rollback()
		return core.StoreErr("delete chunks", err)
	}

	const q = `
		INSERT INTO resource_chunks
			(id, resource_id, position, text, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return core.StoreErr("prepare chunks", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, resourceID, ch.Position, ch.Text, pgvector.NewVector(ch.Embedding), ch.TokenCount, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return core.StoreErr("insert chunk", err)
		}
	}
	return core.StoreErr("commit chunks", tx.Commit())
}

// SearchResourceChunks finds the top-k chunks nearest to queryVec.
func (c *DatabaseClient) SearchResourceChunks(ctx context.Context, queryVec []float32, limit int) ([]models.ResourceChunk, error) {
	const q = `
		SELECT id, resource_id, position, text, embedding, token_count, created_at
		FROM resource_chunks
		ORDER BY embedding <-> $1
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, core.StoreErr("search chunks", err)
	}
	defer rows.Close()

	var out []models.ResourceChunk
	for rows.Next() {
		var (
			ch  models.ResourceChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.ResourceID, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &ch.CreatedAt); err != nil {
			return nil, core.StoreErr("scan chunk", err)
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, core.StoreErr("search chunks", rows.Err())
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
