// ABOUTME: SQLite implementation of agent/task/input-request persistence using modernc.org/sqlite
// ABOUTME: Short-lived write statements with bounded busy-retry so concurrent agent processes can share one file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// busyMaxAttempts bounds the retry loop on SQLITE_BUSY before the error is
// surfaced as ErrStorageLocked.
const busyMaxAttempts = 5

// busyBaseDelay is the first retry delay; it doubles on each attempt.
const busyBaseDelay = 10 * time.Millisecond

// AgentStore persists agents, tasks, input requests and the outbound message
// log in a single SQLite file. It holds no business rules; validation beyond
// storage constraints belongs to the services above it.
type AgentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAgentStore opens (or creates) the store at the given path.
// Parent directories are created if needed and the schema is applied.
func NewAgentStore(path string, logger *slog.Logger) (*AgentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets independent writers make progress without starving each other
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &AgentStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("agent store initialized", "path", path)
	return s, nil
}

func (s *AgentStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			type          TEXT NOT NULL,
			channel_id    TEXT,
			channel_name  TEXT,
			is_private    INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			last_active   TEXT,
			metadata_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name);

		CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL REFERENCES agents(id),
			name           TEXT NOT NULL,
			description    TEXT NOT NULL,
			status         TEXT NOT NULL,
			subtasks_json  TEXT,
			started_at     TEXT NOT NULL,
			completed_at   TEXT,
			progress       INTEGER,
			estimated_time TEXT,
			output_summary TEXT,
			outputs_json   TEXT,
			metrics_json   TEXT,
			blockers_json  TEXT,

			CHECK (status IN ('pending', 'active', 'completed', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

		CREATE TABLE IF NOT EXISTS input_requests (
			id              TEXT PRIMARY KEY,
			agent_id        TEXT NOT NULL REFERENCES agents(id),
			question        TEXT NOT NULL,
			context_json    TEXT,
			options_json    TEXT,
			timeout_seconds INTEGER NOT NULL DEFAULT 300,
			requested_at    TEXT NOT NULL,
			response        TEXT,
			is_answered     INTEGER NOT NULL DEFAULT 0,
			responded_at    TEXT,
			responder       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_input_requests_agent ON input_requests(agent_id);
		CREATE INDEX IF NOT EXISTS idx_input_requests_answered ON input_requests(is_answered);

		CREATE TABLE IF NOT EXISTS agent_messages (
			id                 TEXT PRIMARY KEY,
			agent_id           TEXT NOT NULL REFERENCES agents(id),
			type               TEXT NOT NULL,
			content            TEXT NOT NULL,
			channel_message_id TEXT,
			sent_at            TEXT NOT NULL,

			CHECK (type IN ('status', 'question', 'completion', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_messages_agent ON agent_messages(agent_id, sent_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *AgentStore) Close() error {
	s.logger.Info("closing agent store")
	return s.db.Close()
}

// withRetry runs fn, retrying on transient lock contention with exponential
// backoff. After busyMaxAttempts the error is wrapped in ErrStorageLocked.
func (s *AgentStore) withRetry(ctx context.Context, fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < busyMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Debug("database busy, retrying", "attempt", attempt+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %v", ErrStorageLocked, err)
}

// isBusy checks whether the error is a transient SQLite lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isConstraintViolation checks for SQLite constraint failures (duplicate
// primary key, foreign key pointing nowhere).
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint")
}

// marshalMeta encodes a Meta bag to a nullable JSON column value.
func marshalMeta(m Meta) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(b), nil
}

// marshalStrings encodes a string list to a nullable JSON column value.
func marshalStrings(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshaling list: %w", err)
	}
	return string(b), nil
}

func unmarshalMeta(col sql.NullString) Meta {
	if !col.Valid {
		return nil
	}
	var m Meta
	_ = json.Unmarshal([]byte(col.String), &m) // Best effort: invalid JSON leaves the bag empty
	return m
}

func unmarshalStrings(col sql.NullString) []string {
	if !col.Valid {
		return nil
	}
	var list []string
	_ = json.Unmarshal([]byte(col.String), &list)
	return list
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime decodes a timestamp column written by formatTime. A parse
// failure means the column was altered outside the application; the
// malformed value is logged and the zero time returned so reads still
// succeed.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		slog.Warn("malformed stored timestamp", "value", s, "error", err)
	}
	return t
}

// RegisterAgent inserts a new agent row. Returns false (without error) when
// an agent with the same id already exists, so callers can decide how to
// react to re-registration.
func (s *AgentStore) RegisterAgent(ctx context.Context, agent *Agent) (bool, error) {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}

	metaJSON, err := marshalMeta(agent.Metadata)
	if err != nil {
		return false, err
	}

	var lastActive any
	if agent.LastActive != nil {
		lastActive = formatTime(*agent.LastActive)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, type, channel_id, channel_name, is_private, created_at, last_active, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, agent.ID, agent.Name, agent.Type,
			nullString(agent.ChannelID), nullString(agent.ChannelName),
			boolToInt(agent.IsPrivate), formatTime(agent.CreatedAt), lastActive, metaJSON)
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("registered agent", "id", agent.ID, "name", agent.Name)
	return true, nil
}

// GetAgent retrieves an agent by id. Returns ErrNotFound if it doesn't exist.
func (s *AgentStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	var channelID, channelName, lastActive, metaJSON sql.NullString
	var isPrivate int
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, channel_id, channel_name, is_private, created_at, last_active, metadata_json
		FROM agents WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.Type, &channelID, &channelName, &isPrivate, &createdAt, &lastActive, &metaJSON)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	a.ChannelID = channelID.String
	a.ChannelName = channelName.String
	a.IsPrivate = isPrivate != 0
	a.CreatedAt = parseTime(createdAt)
	if lastActive.Valid {
		t := parseTime(lastActive.String)
		a.LastActive = &t
	}
	a.Metadata = unmarshalMeta(metaJSON)

	return &a, nil
}

// TouchAgent updates an agent's last_active timestamp.
// Returns false if the agent does not exist.
func (s *AgentStore) TouchAgent(ctx context.Context, id string) (bool, error) {
	var rows int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE agents SET last_active = ? WHERE id = ?`, formatTime(time.Now()), id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("touching agent: %w", err)
	}
	return rows > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateTask inserts a new task in the active state with started_at set to
// now. Returns false when the owning agent does not exist or the id is taken.
func (s *AgentStore) CreateTask(ctx context.Context, task *Task) (bool, error) {
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now()
	}
	task.Status = TaskStatusActive

	subtasksJSON, err := marshalStrings(task.Subtasks)
	if err != nil {
		return false, err
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, agent_id, name, description, status, subtasks_json, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.AgentID, task.Name, task.Description, task.Status, subtasksJSON, formatTime(task.StartedAt))
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting task: %w", err)
	}

	s.logger.Debug("created task", "id", task.ID, "agent_id", task.AgentID, "name", task.Name)
	return true, nil
}

// GetTask retrieves a task by id regardless of status.
func (s *AgentStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, name, description, status, subtasks_json, started_at, completed_at,
		       progress, estimated_time, output_summary, outputs_json, metrics_json, blockers_json
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var subtasksJSON, completedAt, estimatedTime, outputSummary, outputsJSON, metricsJSON, blockersJSON sql.NullString
	var progress sql.NullInt64
	var startedAt string

	err := row.Scan(&t.ID, &t.AgentID, &t.Name, &t.Description, &t.Status, &subtasksJSON,
		&startedAt, &completedAt, &progress, &estimatedTime, &outputSummary,
		&outputsJSON, &metricsJSON, &blockersJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	t.Subtasks = unmarshalStrings(subtasksJSON)
	t.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		ct := parseTime(completedAt.String)
		t.CompletedAt = &ct
	}
	if progress.Valid {
		p := int(progress.Int64)
		t.Progress = &p
	}
	t.EstimatedTime = estimatedTime.String
	t.OutputSummary = outputSummary.String
	t.Outputs = unmarshalMeta(outputsJSON)
	t.Metrics = unmarshalMeta(metricsJSON)
	t.Blockers = unmarshalStrings(blockersJSON)

	return &t, nil
}

// UpdateTaskProgress updates the mutable progress fields of a task. Nil
// arguments leave the stored value untouched; a fully empty update still
// reports whether the row exists. Returns false for an unknown task id.
func (s *AgentStore) UpdateTaskProgress(ctx context.Context, id string, progress *int, estimatedTime *string, status *string, blockers []string) (bool, error) {
	sets := []string{}
	args := []any{}

	if progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *progress)
	}
	if estimatedTime != nil {
		sets = append(sets, "estimated_time = ?")
		args = append(args, *estimatedTime)
	}
	if status != nil {
		if !ValidTaskStatus(*status) {
			return false, fmt.Errorf("invalid task status %q", *status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *status)
	}
	if blockers != nil {
		blockersJSON, err := marshalStrings(blockers)
		if err != nil {
			return false, err
		}
		sets = append(sets, "blockers_json = ?")
		args = append(args, blockersJSON)
	}

	if len(sets) == 0 {
		// No fields to change; still report existence accurately.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("checking task: %w", err)
		}
		return true, nil
	}

	args = append(args, id)
	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	var rows int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("updating task progress: %w", err)
	}

	return rows > 0, nil
}

// CompleteTask transitions a task to a terminal outcome (completed or
// failed), recording the summary, outputs and metrics, and stamping
// completed_at. Returns false for an unknown task id.
func (s *AgentStore) CompleteTask(ctx context.Context, id, status, summary string, outputs, metrics Meta) (bool, error) {
	if status != TaskStatusCompleted && status != TaskStatusFailed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}

	outputsJSON, err := marshalMeta(outputs)
	if err != nil {
		return false, err
	}
	metricsJSON, err := marshalMeta(metrics)
	if err != nil {
		return false, err
	}

	var rows int64
	err = s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, completed_at = ?, output_summary = ?, outputs_json = ?, metrics_json = ?
			WHERE id = ?
		`, status, formatTime(time.Now()), summary, outputsJSON, metricsJSON, id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("completing task: %w", err)
	}

	if rows > 0 {
		s.logger.Debug("completed task", "id", id)
	}
	return rows > 0, nil
}

// CancelTask transitions a task to cancelled and stamps completed_at.
// Returns false for an unknown task id.
func (s *AgentStore) CancelTask(ctx context.Context, id string) (bool, error) {
	var rows int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?
		`, TaskStatusCancelled, formatTime(time.Now()), id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cancelling task: %w", err)
	}
	return rows > 0, nil
}

// GetActiveTasks lists tasks in the active state, scoped to one agent when
// agentID is non-empty, system-wide otherwise.
func (s *AgentStore) GetActiveTasks(ctx context.Context, agentID string) ([]*Task, error) {
	query := `
		SELECT id, agent_id, name, description, status, subtasks_json, started_at, completed_at,
		       progress, estimated_time, output_summary, outputs_json, metrics_json, blockers_json
		FROM tasks WHERE status = ?`
	args := []any{TaskStatusActive}

	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateInputRequest inserts a new unanswered input request.
// Returns false when the owning agent does not exist or the id is taken.
func (s *AgentStore) CreateInputRequest(ctx context.Context, req *InputRequest) (bool, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 300
	}

	contextJSON, err := marshalMeta(req.Context)
	if err != nil {
		return false, err
	}
	optionsJSON, err := marshalStrings(req.Options)
	if err != nil {
		return false, err
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO input_requests (id, agent_id, question, context_json, options_json, timeout_seconds, requested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, req.ID, req.AgentID, req.Question, contextJSON, optionsJSON, req.TimeoutSeconds, formatTime(req.RequestedAt))
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting input request: %w", err)
	}

	s.logger.Debug("created input request", "id", req.ID, "agent_id", req.AgentID)
	return true, nil
}

// GetInputRequest retrieves an input request by id regardless of state.
func (s *AgentStore) GetInputRequest(ctx context.Context, id string) (*InputRequest, error) {
	return s.getInputRequest(ctx, id, false)
}

// GetPendingRequest retrieves an input request by id only while it is
// unanswered. Once answered it returns ErrNotFound: "pending" means
// unanswered.
func (s *AgentStore) GetPendingRequest(ctx context.Context, id string) (*InputRequest, error) {
	return s.getInputRequest(ctx, id, true)
}

func (s *AgentStore) getInputRequest(ctx context.Context, id string, pendingOnly bool) (*InputRequest, error) {
	query := `
		SELECT id, agent_id, question, context_json, options_json, timeout_seconds,
		       requested_at, response, is_answered, responded_at, responder
		FROM input_requests WHERE id = ?`
	if pendingOnly {
		query += ` AND is_answered = 0`
	}

	var r InputRequest
	var contextJSON, optionsJSON, response, respondedAt, responder sql.NullString
	var isAnswered int
	var requestedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.AgentID, &r.Question, &contextJSON, &optionsJSON, &r.TimeoutSeconds,
		&requestedAt, &response, &isAnswered, &respondedAt, &responder)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying input request: %w", err)
	}

	r.Context = unmarshalMeta(contextJSON)
	r.Options = unmarshalStrings(optionsJSON)
	r.RequestedAt = parseTime(requestedAt)
	if response.Valid {
		r.Response = &response.String
	}
	r.IsAnswered = isAnswered != 0
	if respondedAt.Valid {
		t := parseTime(respondedAt.String)
		r.RespondedAt = &t
	}
	r.Responder = responder.String

	return &r, nil
}

// SaveUserResponse records the human's reply to an input request, marking it
// answered. Returns false if the request is unknown or already answered; the
// first stored response is immutable.
func (s *AgentStore) SaveUserResponse(ctx context.Context, id, response, responder string) (bool, error) {
	var rows int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE input_requests
			SET response = ?, is_answered = 1, responded_at = ?, responder = ?
			WHERE id = ? AND is_answered = 0
		`, response, formatTime(time.Now()), nullString(responder), id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("saving user response: %w", err)
	}

	if rows > 0 {
		s.logger.Debug("saved user response", "id", id, "responder", responder)
	}
	return rows > 0, nil
}

// SaveAgentMessage appends an outbound-notification log row.
// Returns false when the owning agent does not exist or the id is taken.
func (s *AgentStore) SaveAgentMessage(ctx context.Context, msg *AgentMessage) (bool, error) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_messages (id, agent_id, type, content, channel_message_id, sent_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.AgentID, msg.Type, msg.Content, nullString(msg.ChannelMessageID), formatTime(msg.SentAt))
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting agent message: %w", err)
	}
	return true, nil
}

// ListAgentMessages returns the most recent notification log rows for an
// agent, newest first.
func (s *AgentStore) ListAgentMessages(ctx context.Context, agentID string, limit int) ([]*AgentMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, type, content, channel_message_id, sent_at
		FROM agent_messages
		WHERE agent_id = ?
		ORDER BY sent_at DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*AgentMessage
	for rows.Next() {
		var m AgentMessage
		var channelMessageID sql.NullString
		var sentAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Type, &m.Content, &channelMessageID, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning agent message: %w", err)
		}
		m.ChannelMessageID = channelMessageID.String
		m.SentAt = parseTime(sentAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
