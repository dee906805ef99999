package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rapidworks/expertdesk/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writers in this process and keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// sqliteDSN adds the connection settings to path. Transactions begin
// IMMEDIATE so a writer takes the lock up front and waits on busy_timeout
// instead of failing a later lock upgrade with SQLITE_BUSY when another
// process shares the file.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const taskColumns = `id, status, user_id, user_email, user_name,
	expert_email, expert_name, expert_type,
	task_name, task_description, due_date, files,
	estimate, invoice, decline_feedback,
	created_at, updated_at, completed_at, revision, message_seq`

const messageColumns = `id, task_id, client_id, seq, sender, type, content,
	read, sender_name, sender_email, created_at`

type taskRow struct {
	ID              string         `db:"id"`
	Status          string         `db:"status"`
	UserID          string         `db:"user_id"`
	UserEmail       string         `db:"user_email"`
	UserName        string         `db:"user_name"`
	ExpertEmail     string         `db:"expert_email"`
	ExpertName      string         `db:"expert_name"`
	ExpertType      string         `db:"expert_type"`
	TaskName        string         `db:"task_name"`
	TaskDescription string         `db:"task_description"`
	DueDate         *time.Time     `db:"due_date"`
	Files           string         `db:"files"`
	Estimate        sql.NullString `db:"estimate"`
	Invoice         sql.NullString `db:"invoice"`
	DeclineFeedback string         `db:"decline_feedback"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
	Revision        int64          `db:"revision"`
	MessageSeq      int64          `db:"message_seq"`
}

func (r taskRow) toModel() (model.TaskRequest, error) {
	t := model.TaskRequest{
		ID:              r.ID,
		Status:          model.Status(r.Status),
		UserID:          r.UserID,
		UserEmail:       r.UserEmail,
		UserName:        r.UserName,
		ExpertEmail:     r.ExpertEmail,
		ExpertName:      r.ExpertName,
		ExpertType:      r.ExpertType,
		TaskName:        r.TaskName,
		TaskDescription: r.TaskDescription,
		DueDate:         r.DueDate,
		DeclineFeedback: r.DeclineFeedback,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CompletedAt:     r.CompletedAt,
		Revision:        r.Revision,
		Messages:        []model.Message{},
	}

	if err := json.Unmarshal([]byte(r.Files), &t.Files); err != nil {
		return t, fmt.Errorf("unmarshaling files for task %s: %w", r.ID, err)
	}
	if r.Estimate.Valid {
		t.Estimate = &model.Estimate{}
		if err := json.Unmarshal([]byte(r.Estimate.String), t.Estimate); err != nil {
			return t, fmt.Errorf("unmarshaling estimate for task %s: %w", r.ID, err)
		}
	}
	if r.Invoice.Valid {
		t.Invoice = &model.Invoice{}
		if err := json.Unmarshal([]byte(r.Invoice.String), t.Invoice); err != nil {
			return t, fmt.Errorf("unmarshaling invoice for task %s: %w", r.ID, err)
		}
	}
	return t, nil
}

type messageRow struct {
	ID          string         `db:"id"`
	TaskID      string         `db:"task_id"`
	ClientID    sql.NullString `db:"client_id"`
	Seq         int64          `db:"seq"`
	Sender      string         `db:"sender"`
	Type        string         `db:"type"`
	Content     string         `db:"content"`
	Read        bool           `db:"read"`
	SenderName  string         `db:"sender_name"`
	SenderEmail string         `db:"sender_email"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:          r.ID,
		TaskID:      r.TaskID,
		ClientID:    r.ClientID.String,
		Seq:         r.Seq,
		Sender:      model.Sender(r.Sender),
		Type:        model.MessageType(r.Type),
		Content:     r.Content,
		Read:        r.Read,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		CreatedAt:   r.CreatedAt,
	}
}

// CreateTask inserts a new task request.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.TaskRequest) error {
	files := task.Files
	if files == nil {
		files = []model.FileRef{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	estimate, err := nullJSON(task.Estimate)
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}
	invoice, err := nullJSON(task.Invoice)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}

	task.Revision = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_requests (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		task.ID, string(task.Status), task.UserID, task.UserEmail, task.UserName,
		task.ExpertEmail, task.ExpertName, task.ExpertType,
		task.TaskName, task.TaskDescription, utcPtr(task.DueDate), string(filesJSON),
		estimate, invoice, task.DeclineFeedback,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(), utcPtr(task.CompletedAt), task.Revision,
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a single task and its messages.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.TaskRequest, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM task_requests WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	task, err := row.toModel()
	if err != nil {
		return nil, err
	}

	var msgs []messageRow
	err = s.db.SelectContext(ctx, &msgs,
		"SELECT "+messageColumns+" FROM task_messages WHERE task_id = ? ORDER BY seq ASC", id)
	if err != nil {
		return nil, fmt.Errorf("getting messages for task %s: %w", id, err)
	}
	for _, m := range msgs {
		task.Messages = append(task.Messages, m.toModel())
	}

	return &task, nil
}

// ListTasks retrieves tasks matching the provided filter options.
func (s *SQLiteStore) ListTasks(ctx context.Context, opts TaskFilter) ([]model.TaskRequest, error) {
	var conditions []string
	var args []interface{}

	if opts.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *opts.UserID)
	}
	if opts.ExpertEmail != nil {
		conditions = append(conditions, "expert_email = ? COLLATE NOCASE")
		args = append(args, *opts.ExpertEmail)
	}
	if opts.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*opts.Status))
	}
	if opts.Query != nil && *opts.Query != "" {
		conditions = append(conditions, "(task_name LIKE ? OR task_description LIKE ?)")
		q := "%" + *opts.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT " + taskColumns + " FROM task_requests"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := "updated_at"
	if opts.SortBy != "" {
		allowedSorts := map[string]bool{
			"task_name":  true,
			"status":     true,
			"created_at": true,
			"updated_at": true,
		}
		if allowedSorts[opts.SortBy] {
			sortBy = opts.SortBy
		}
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, direction)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	if len(rows) == 0 {
		return []model.TaskRequest{}, nil
	}

	tasks := make([]model.TaskRequest, 0, len(rows))
	index := make(map[string]int, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		index[t.ID] = len(tasks)
		ids = append(ids, t.ID)
		tasks = append(tasks, t)
	}

	msgQuery, msgArgs, err := sqlx.In(
		"SELECT "+messageColumns+" FROM task_messages WHERE task_id IN (?) ORDER BY task_id, seq ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("building message query: %w", err)
	}
	var msgs []messageRow
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(msgQuery), msgArgs...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	for _, m := range msgs {
		i := index[m.TaskID]
		tasks[i].Messages = append(tasks[i].Messages, m.toModel())
	}

	return tasks, nil
}

// UpdateTask writes the mutable task fields guarded by the expected
// revision, then applies message rewrites and appends in the same
// transaction.
func (s *SQLiteStore) UpdateTask(ctx context.Context, u TaskUpdate) (int64, error) {
	estimate, err := nullJSON(u.Estimate)
	if err != nil {
		return 0, fmt.Errorf("marshaling estimate: %w", err)
	}
	invoice, err := nullJSON(u.Invoice)
	if err != nil {
		return 0, fmt.Errorf("marshaling invoice: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE task_requests SET
			status = ?, estimate = ?, invoice = ?, decline_feedback = ?,
			updated_at = ?, completed_at = ?, revision = revision + 1
		WHERE id = ? AND revision = ?`,
		string(u.Status), estimate, invoice, u.DeclineFeedback,
		u.UpdatedAt.UTC(), utcPtr(u.CompletedAt),
		u.ID, u.ExpectedRevision,
	)
	if err != nil {
		return 0, fmt.Errorf("updating task %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM task_requests WHERE id = ?", u.ID)
		if err != nil {
			return 0, fmt.Errorf("checking task %s: %w", u.ID, err)
		}
		if exists == 0 {
			return 0, fmt.Errorf("updating task %s: %w", u.ID, ErrNotFound)
		}
		return 0, fmt.Errorf("updating task %s at revision %d: %w", u.ID, u.ExpectedRevision, ErrConflict)
	}

	for _, m := range u.Rewrite {
		_, err := tx.ExecContext(ctx,
			"UPDATE task_messages SET content = ? WHERE task_id = ? AND id = ?",
			m.Content, u.ID, m.ID)
		if err != nil {
			return 0, fmt.Errorf("rewriting message %s: %w", m.ID, err)
		}
	}

	for _, m := range u.Append {
		if _, _, err := appendTx(ctx, tx, u.ID, m, false); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing task %s: %w", u.ID, err)
	}
	return u.ExpectedRevision + 1, nil
}

// AppendMessage stores msg at the next sequence position of the task.
func (s *SQLiteStore) AppendMessage(
	ctx context.Context,
	taskID string,
	msg model.Message,
) (model.Message, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stored, created, err := appendTx(ctx, tx, taskID, msg, true)
	if err != nil {
		return model.Message{}, false, err
	}
	if !created {
		return stored, false, nil
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, false, fmt.Errorf("committing message for task %s: %w", taskID, err)
	}
	return stored, true, nil
}

// appendTx allocates the next seq on the task row and inserts msg.
// When bumpRevision is false the caller already advanced the revision.
func appendTx(
	ctx context.Context,
	tx *sqlx.Tx,
	taskID string,
	msg model.Message,
	bumpRevision bool,
) (model.Message, bool, error) {
	if msg.ClientID != "" {
		var existing messageRow
		err := tx.GetContext(ctx, &existing,
			"SELECT "+messageColumns+" FROM task_messages WHERE task_id = ? AND client_id = ?",
			taskID, msg.ClientID)
		if err == nil {
			return existing.toModel(), false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, false, fmt.Errorf("checking client id %s: %w", msg.ClientID, err)
		}
	}

	bump := "message_seq = message_seq + 1"
	if bumpRevision {
		bump += ", revision = revision + 1, updated_at = ?"
	}
	args := []interface{}{}
	if bumpRevision {
		args = append(args, msg.CreatedAt.UTC())
	}
	args = append(args, taskID)

	var seq int64
	err := tx.GetContext(ctx, &seq,
		"UPDATE task_requests SET "+bump+" WHERE id = ? RETURNING message_seq", args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, false, fmt.Errorf("appending to task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return model.Message{}, false, fmt.Errorf("allocating seq for task %s: %w", taskID, err)
	}

	msg.TaskID = taskID
	msg.Seq = seq
	var clientID interface{}
	if msg.ClientID != "" {
		clientID = msg.ClientID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, taskID, clientID, msg.Seq, string(msg.Sender), string(msg.Type), msg.Content,
		boolToInt(msg.Read), msg.SenderName, msg.SenderEmail, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}

	return msg, true, nil
}

// MarkRead flips unread messages from sender to read.
func (s *SQLiteStore) MarkRead(ctx context.Context, taskID string, sender model.Sender) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM task_requests WHERE id = ?", taskID); err != nil {
		return 0, fmt.Errorf("checking task %s: %w", taskID, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("marking task %s read: %w", taskID, ErrNotFound)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE task_messages SET read = 1 WHERE task_id = ? AND sender = ? AND read = 0",
		taskID, string(sender))
	if err != nil {
		return 0, fmt.Errorf("marking messages read for task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE task_requests SET revision = revision + 1 WHERE id = ?", taskID); err != nil {
		return 0, fmt.Errorf("bumping revision for task %s: %w", taskID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing read flags for task %s: %w", taskID, err)
	}
	return int(n), nil
}

// Revisions returns the current revision for each of the given task ids.
// Unknown ids are absent from the result.
func (s *SQLiteStore) Revisions(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT id, revision FROM task_requests WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("building revisions query: %w", err)
	}

	var rows []struct {
		ID       string `db:"id"`
		Revision int64  `db:"revision"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Revision
	}
	return out, nil
}

// nullJSON marshals v into a nullable TEXT column value.
func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
