package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/unibox/pkg/models"
)

// PostgresConfig configures connection pooling.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default connection pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// OpenPostgres opens and pings a Postgres database.
func OpenPostgres(dsn string, config *PostgresConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewPostgresStoresFromDSN creates Postgres-backed stores using a DSN.
func NewPostgresStoresFromDSN(dsn string, config *PostgresConfig) (StoreSet, error) {
	db, err := OpenPostgres(dsn, config)
	if err != nil {
		return StoreSet{}, err
	}
	stores := NewPostgresStores(db)
	stores.closer = db.Close
	return stores, nil
}

// NewPostgresStores wraps an open database. The caller owns db.
func NewPostgresStores(db *sql.DB) StoreSet {
	return StoreSet{
		Channels: &postgresChannelStore{db: db},
		Messages: &postgresMessageStore{db: db},
		Settings: &postgresSettingsStore{db: db},
		Profiles: &postgresProfileStore{db: db},
		Tickets:  &postgresTicketStore{db: db},
	}
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "duplicate")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

type postgresChannelStore struct {
	db *sql.DB
}

const channelColumns = `id, user_id, channel_type, display_name, credentials, connected, created_at, last_sync_at`

func (s *postgresChannelStore) Create(ctx context.Context, conn *models.ChannelConnection) error {
	if conn == nil || conn.ID == "" {
		return fmt.Errorf("connection is required")
	}
	creds, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_connections (`+channelColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		conn.ID,
		conn.UserID,
		string(conn.ChannelType),
		conn.DisplayName,
		creds,
		conn.Connected,
		conn.CreatedAt,
		conn.LastSyncAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create channel connection: %w", err)
	}
	return nil
}

func scanChannel(row rowScanner) (*models.ChannelConnection, error) {
	var conn models.ChannelConnection
	var channelType string
	var creds []byte
	var lastSync sql.NullTime
	if err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&channelType,
		&conn.DisplayName,
		&creds,
		&conn.Connected,
		&conn.CreatedAt,
		&lastSync,
	); err != nil {
		return nil, err
	}
	conn.ChannelType = models.ChannelType(channelType)
	if lastSync.Valid {
		at := lastSync.Time
		conn.LastSyncAt = &at
	}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &conn.Credentials); err != nil {
			return nil, fmt.Errorf("unmarshal credentials: %w", err)
		}
	}
	return &conn, nil
}

func (s *postgresChannelStore) Get(ctx context.Context, id string) (*models.ChannelConnection, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channel_connections WHERE id = $1`, id)
	conn, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel connection: %w", err)
	}
	return conn, nil
}

func (s *postgresChannelStore) List(ctx context.Context, userID string) ([]*models.ChannelConnection, error) {
	query := `SELECT ` + channelColumns + ` FROM channel_connections`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channel connections: %w", err)
	}
	defer rows.Close()

	conns := []*models.ChannelConnection{}
	for rows.Next() {
		conn, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channel connections: %w", err)
	}
	return conns, nil
}

func (s *postgresChannelStore) Update(ctx context.Context, conn *models.ChannelConnection) error {
	if conn == nil || conn.ID == "" {
		return fmt.Errorf("connection is required")
	}
	creds, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE channel_connections
		 SET display_name = $1, credentials = $2, connected = $3, last_sync_at = $4
		 WHERE id = $5`,
		conn.DisplayName,
		creds,
		conn.Connected,
		conn.LastSyncAt,
		conn.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel connection: %w", err)
	}
	return requireRow(result)
}

func (s *postgresChannelStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM channel_connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel connection: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type postgresMessageStore struct {
	db *sql.DB
}

const messageColumns = `id, user_id, channel_id, channel_type, external_id, sender_id, sender_name, sender_avatar,
	content, attachments, status, starred, thread_id, parent_id, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *models.Message, ignoreConflict bool) (sql.Result, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	payload, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	if ignoreConflict {
		query += ` ON CONFLICT DO NOTHING`
	}
	return db.ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		msg.ChannelID,
		string(msg.ChannelType),
		nullString(msg.ExternalID),
		msg.SenderID,
		msg.SenderName,
		msg.SenderAvatar,
		msg.Content,
		payload,
		string(msg.Status),
		msg.Starred,
		nullString(msg.ThreadID),
		nullString(msg.ParentID),
		msg.CreatedAt,
	)
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var channelType, status string
	var externalID, threadID, parentID sql.NullString
	var attachments []byte
	if err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.ChannelID,
		&channelType,
		&externalID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.SenderAvatar,
		&msg.Content,
		&attachments,
		&status,
		&msg.Starred,
		&threadID,
		&parentID,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	msg.ChannelType = models.ChannelType(channelType)
	msg.Status = models.MessageStatus(status)
	msg.ExternalID = externalID.String
	msg.ThreadID = threadID.String
	msg.ParentID = parentID.String
	msg.Attachments = []models.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}

func (s *postgresMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	if _, err := insertMessage(ctx, s.db, msg, false); err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *postgresMessageStore) InsertIfAbsent(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil || msg.ID == "" {
		return false, fmt.Errorf("message is required")
	}
	result, err := insertMessage(ctx, s.db, msg, true)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *postgresMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// buildMessageQuery renders filter as a WHERE clause with positional args.
func buildMessageQuery(filter MessageFilter) (string, []any) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.ChannelID != "" {
		add("channel_id = $%d", filter.ChannelID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ExcludeArchived {
		add("status <> $%d", string(models.StatusArchived))
	}
	if filter.StarredOnly {
		where = append(where, "starred")
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(content ILIKE $%d OR sender_name ILIKE $%d)", n, n))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + messageColumns + ` FROM messages`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *postgresMessageStore) List(ctx context.Context, filter MessageFilter) ([]*models.Message, error) {
	query, args := buildMessageQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func statusStrings(statuses []models.MessageStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *postgresMessageStore) UpdateStatus(ctx context.Context, id string, from []models.MessageStatus, to models.MessageStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		string(to), id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *postgresMessageStore) SetStarred(ctx context.Context, id string, starred bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET starred = $1 WHERE id = $2`, starred, id)
	if err != nil {
		return fmt.Errorf("star message: %w", err)
	}
	return requireRow(result)
}

func (s *postgresMessageStore) ApplyReply(ctx context.Context, parentID string, build ReplyFunc) (*models.Message, *models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin reply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, parentID)
	parent, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock parent message: %w", err)
	}

	reply, status, err := build(parent.Clone())
	if err != nil {
		return nil, nil, err
	}
	if reply == nil || reply.ID == "" {
		return nil, nil, fmt.Errorf("reply is required")
	}

	if status != parent.Status {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = $1 WHERE id = $2`, string(status), parent.ID); err != nil {
			return nil, nil, fmt.Errorf("update parent status: %w", err)
		}
		parent.Status = status
	}
	if _, err := insertMessage(ctx, tx, reply, false); err != nil {
		if isDuplicate(err) {
			return nil, nil, ErrAlreadyExists
		}
		return nil, nil, fmt.Errorf("insert reply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit reply: %w", err)
	}
	return parent, reply, nil
}

type postgresSettingsStore struct {
	db *sql.DB
}

func (s *postgresSettingsStore) Get(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	var settings models.NotificationSettings
	var muted []string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, push, email, sound, muted_channels, updated_at
		 FROM notification_settings WHERE user_id = $1`, userID).Scan(
		&settings.UserID,
		&settings.Push,
		&settings.Email,
		&settings.Sound,
		pq.Array(&muted),
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	if muted == nil {
		muted = []string{}
	}
	settings.MutedChannels = muted
	return &settings, nil
}

func (s *postgresSettingsStore) Upsert(ctx context.Context, settings *models.NotificationSettings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("settings are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings (user_id, push, email, sound, muted_channels, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   push = EXCLUDED.push,
		   email = EXCLUDED.email,
		   sound = EXCLUDED.sound,
		   muted_channels = EXCLUDED.muted_channels,
		   updated_at = EXCLUDED.updated_at`,
		settings.UserID,
		settings.Push,
		settings.Email,
		settings.Sound,
		pq.Array(settings.MutedChannels),
		settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert notification settings: %w", err)
	}
	return nil
}

type postgresProfileStore struct {
	db *sql.DB
}

func (s *postgresProfileStore) Get(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, full_name, avatar_url, created_at, updated_at
		 FROM profiles WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.Email, &p.FullName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *postgresProfileStore) Upsert(ctx context.Context, p *models.Profile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("profile is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, email, full_name, avatar_url, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   email = EXCLUDED.email,
		   full_name = EXCLUDED.full_name,
		   avatar_url = EXCLUDED.avatar_url,
		   updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Email, p.FullName, p.AvatarURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

type postgresTicketStore struct {
	db *sql.DB
}

const ticketColumns = `id, user_id, title, description, status, priority, created_at, updated_at`

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var status, priority string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &priority, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	t.Priority = models.TicketPriority(priority)
	return &t, nil
}

func (s *postgresTicketStore) Create(ctx context.Context, t *models.Ticket) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("ticket is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.UserID, t.Title, t.Description, string(t.Status), string(t.Priority), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *postgresTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *postgresTicketStore) List(ctx context.Context, userID string) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []*models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

func (s *postgresTicketStore) Update(ctx context.Context, t *models.Ticket) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("ticket is required")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET title = $1, description = $2, status = $3, priority = $4, updated_at = $5 WHERE id = $6`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	return requireRow(result)
}

func (s *postgresTicketStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return requireRow(result)
}
