package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/haasonsaas/unibox/pkg/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, StoreSet) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewPostgresStores(db)
}

var messageColumnNames = []string{
	"id", "user_id", "channel_id", "channel_type", "external_id", "sender_id", "sender_name", "sender_avatar",
	"content", "attachments", "status", "starred", "thread_id", "parent_id", "created_at",
}

func TestPostgresChannelStore_Create(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		errText   string
	}{
		{
			name: "successful create",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channel_connections").
					WithArgs("c1", "u1", "slack", "Acme", sqlmock.AnyArg(), true, sqlmock.AnyArg(), nil).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "duplicate maps to ErrAlreadyExists",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channel_connections").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: ErrAlreadyExists,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channel_connections").
					WillReturnError(errors.New("connection refused"))
			},
			errText: "create channel connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, stores := setupMockDB(t)
			tt.setupMock(mock)
			err := stores.Channels.Create(context.Background(), &models.ChannelConnection{
				ID:          "c1",
				UserID:      "u1",
				ChannelType: models.ChannelSlack,
				DisplayName: "Acme",
				Connected:   true,
				Credentials: models.Credentials{AccessToken: "xoxb"},
				CreatedAt:   time.Now(),
			})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
				}
			case tt.errText != "":
				if err == nil || !strings.Contains(err.Error(), tt.errText) {
					t.Fatalf("Create() error = %v, want containing %q", err, tt.errText)
				}
			default:
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresChannelStore_Get(t *testing.T) {
	columns := []string{"id", "user_id", "channel_type", "display_name", "credentials", "connected", "created_at", "last_sync_at"}
	now := time.Now()

	t.Run("decodes credentials", func(t *testing.T) {
		_, mock, stores := setupMockDB(t)
		mock.ExpectQuery("SELECT .+ FROM channel_connections WHERE id = \\$1").
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				"c1", "u1", "slack", "Acme",
				[]byte(`{"access_token":"xoxb","slack":{"team_id":"T1","team_name":"Acme"}}`),
				true, now, nil,
			))
		conn, err := stores.Channels.Get(context.Background(), "c1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if conn.Credentials.Slack == nil || conn.Credentials.Slack.TeamID != "T1" {
			t.Fatalf("Get() credentials = %+v", conn.Credentials)
		}
		if conn.LastSyncAt != nil {
			t.Errorf("LastSyncAt = %v, want nil", conn.LastSyncAt)
		}
	})

	t.Run("missing row", func(t *testing.T) {
		_, mock, stores := setupMockDB(t)
		mock.ExpectQuery("SELECT .+ FROM channel_connections").
			WithArgs("c2").
			WillReturnRows(sqlmock.NewRows(columns))
		if _, err := stores.Channels.Get(context.Background(), "c2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPostgresChannelStore_Delete(t *testing.T) {
	_, mock, stores := setupMockDB(t)
	mock.ExpectExec("DELETE FROM channel_connections").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := stores.Channels.Delete(context.Background(), "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresMessageStore_UpdateStatus(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		wantChanged bool
		wantErr     error
	}{
		{
			name: "row changed",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE messages SET status").
					WithArgs("read", "m1", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantChanged: true,
		},
		{
			name: "status not eligible",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE messages SET status").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("m1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
		},
		{
			name: "missing message",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE messages SET status").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("m1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, stores := setupMockDB(t)
			tt.setupMock(mock)
			changed, err := stores.Messages.UpdateStatus(context.Background(), "m1",
				[]models.MessageStatus{models.StatusUnread}, models.StatusRead)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UpdateStatus() error = %v, want %v", err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Errorf("UpdateStatus() changed = %v, want %v", changed, tt.wantChanged)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func replyBuilder(p *models.Message) (*models.Message, models.MessageStatus, error) {
	return &models.Message{
		ID:         "b",
		UserID:     p.UserID,
		ChannelID:  p.ChannelID,
		SenderName: "Me",
		Content:    "ack",
		Status:     models.StatusRead,
		ThreadID:   p.ThreadKey(),
		ParentID:   p.ID,
		CreatedAt:  time.Now(),
	}, models.StatusReplied, nil
}

func parentRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(messageColumnNames).AddRow(
		"a", "u1", "c1", "slack", nil, "s1", "Ann", "", "hi", []byte("[]"), "unread", false, nil, nil, now,
	)
}

func TestPostgresMessageStore_ApplyReply(t *testing.T) {
	now := time.Now()

	t.Run("commits both writes", func(t *testing.T) {
		_, mock, stores := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FROM messages WHERE id = \\$1 FOR UPDATE").
			WithArgs("a").
			WillReturnRows(parentRow(now))
		mock.ExpectExec("UPDATE messages SET status").
			WithArgs("replied", "a").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO messages").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		parent, reply, err := stores.Messages.ApplyReply(context.Background(), "a", replyBuilder)
		if err != nil {
			t.Fatalf("ApplyReply() error = %v", err)
		}
		if parent.Status != models.StatusReplied {
			t.Errorf("parent status = %s, want replied", parent.Status)
		}
		if reply.ThreadID != "a" || reply.ParentID != "a" {
			t.Errorf("reply thread=%q parent=%q", reply.ThreadID, reply.ParentID)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		_, mock, stores := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FROM messages WHERE id = \\$1 FOR UPDATE").
			WithArgs("a").
			WillReturnRows(parentRow(now))
		mock.ExpectExec("UPDATE messages SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO messages").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		if _, _, err := stores.Messages.ApplyReply(context.Background(), "a", replyBuilder); err == nil {
			t.Fatal("ApplyReply() expected error")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		_, mock, stores := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows(messageColumnNames))
		mock.ExpectRollback()

		if _, _, err := stores.Messages.ApplyReply(context.Background(), "a", replyBuilder); !errors.Is(err, ErrNotFound) {
			t.Fatalf("ApplyReply() error = %v, want ErrNotFound", err)
		}
	})
}

func TestBuildMessageQuery(t *testing.T) {
	query, args := buildMessageQuery(MessageFilter{
		UserID:          "u1",
		ChannelID:       "c1",
		ExcludeArchived: true,
		StarredOnly:     true,
		Search:          "50%",
		Limit:           10,
	})
	for _, want := range []string{
		"user_id = $1",
		"channel_id = $2",
		"status <> $3",
		"starred",
		"(content ILIKE $4 OR sender_name ILIKE $4)",
		"ORDER BY created_at DESC",
		"LIMIT $5",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 5 {
		t.Fatalf("args = %v, want 5 entries", args)
	}
	if args[3] != `%50\%%` {
		t.Errorf("search arg = %v, want escaped pattern", args[3])
	}

	query, args = buildMessageQuery(MessageFilter{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("empty filter produced %q %v", query, args)
	}
}

func TestPostgresSettingsStore_Get(t *testing.T) {
	_, mock, stores := setupMockDB(t)
	mock.ExpectQuery("SELECT user_id, push, email, sound, muted_channels").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "push", "email", "sound", "muted_channels", "updated_at"}).
			AddRow("u1", true, false, true, []byte("{c1,c2}"), time.Now()))
	got, err := stores.Settings.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Email || len(got.MutedChannels) != 2 || got.MutedChannels[1] != "c2" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestPostgresTicketStore_Update(t *testing.T) {
	_, mock, stores := setupMockDB(t)
	mock.ExpectExec("UPDATE tickets SET").
		WithArgs("Title", "", "resolved", "high", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := stores.Tickets.Update(context.Background(), &models.Ticket{
		ID: "t1", Title: "Title", Status: models.TicketResolved, Priority: models.PriorityHigh, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
