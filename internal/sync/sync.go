// Package sync pulls recent messages from connected channels into the inbox.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/unibox/internal/observability"
	"github.com/haasonsaas/unibox/pkg/models"
)

// ErrBusy means a sync run is already in progress.
var ErrBusy = errors.New("sync already running")

// Fetcher reads recent messages for one connection. since is nil on the
// first sync. Returned messages carry ExternalID, sender, content,
// attachments, thread links and CreatedAt; ownership is filled in by the
// Syncer.
type Fetcher interface {
	Fetch(ctx context.Context, conn *models.ChannelConnection, since *time.Time, limit int) ([]*models.Message, error)
}

// Channels lists connections to sync and records sync times.
type Channels interface {
	Connected(ctx context.Context, types ...models.ChannelType) ([]*models.ChannelConnection, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// Ingester writes a message if it is not already stored.
type Ingester interface {
	Ingest(ctx context.Context, msg *models.Message) (bool, error)
}

// Report summarizes one sync run.
type Report struct {
	Channels int
	Ingested int
	Skipped  int
	Failed   int
	Errors   []error
}

// Err joins the per-channel errors, or returns nil.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Options configures a Syncer.
type Options struct {
	// Limit caps messages fetched per conversation. Zero means 50.
	Limit   int
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Syncer runs fetchers for every connected channel of a supported type.
type Syncer struct {
	channels Channels
	ingester Ingester
	fetchers map[models.ChannelType]Fetcher
	limit    int
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	running  atomic.Bool
}

func NewSyncer(channels Channels, ingester Ingester, fetchers map[models.ChannelType]Fetcher, opts Options) *Syncer {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		channels: channels,
		ingester: ingester,
		fetchers: fetchers,
		limit:    opts.Limit,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "sync"),
		now:      time.Now,
	}
}

// Types lists the channel types this syncer can fetch.
func (s *Syncer) Types() []models.ChannelType {
	out := make([]models.ChannelType, 0, len(s.fetchers))
	for _, t := range models.ChannelTypes {
		if _, ok := s.fetchers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SyncAll syncs every connected channel. A failing channel does not stop
// the others; its error is collected in the report.
func (s *Syncer) SyncAll(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer s.running.Store(false)

	types := s.Types()
	if len(types) == 0 {
		return Report{}, nil
	}
	conns, err := s.channels.Connected(ctx, types...)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, conn := range conns {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Channels++
		ingested, skipped, err := s.SyncChannel(ctx, conn)
		report.Ingested += ingested
		report.Skipped += skipped
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("channel %s: %w", conn.ID, err))
			s.logger.WarnContext(ctx, "channel sync failed",
				"channel_id", conn.ID, "channel_type", conn.ChannelType, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "sync finished",
		"channels", report.Channels, "ingested", report.Ingested, "failed", report.Failed)
	return report, nil
}

// SyncChannel fetches and ingests messages for one connection and records
// the sync time when the fetch succeeded. It returns the number of new and
// already-stored messages.
func (s *Syncer) SyncChannel(ctx context.Context, conn *models.ChannelConnection) (int, int, error) {
	fetcher, ok := s.fetchers[conn.ChannelType]
	if !ok {
		return 0, 0, fmt.Errorf("no fetcher for %s", conn.ChannelType)
	}
	started := s.now()
	fetched, err := fetcher.Fetch(ctx, conn, conn.LastSyncAt, s.limit)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch: %w", err)
	}

	ingested, skipped := 0, 0
	for _, msg := range fetched {
		msg.UserID = conn.UserID
		msg.ChannelID = conn.ID
		msg.ChannelType = conn.ChannelType
		inserted, err := s.ingester.Ingest(ctx, msg)
		if err != nil {
			return ingested, skipped, fmt.Errorf("ingest %s: %w", msg.ExternalID, err)
		}
		if inserted {
			ingested++
		} else {
			skipped++
		}
	}
	s.metrics.Ingested(string(conn.ChannelType), ingested)

	if err := s.channels.MarkSynced(ctx, conn.ID, started); err != nil {
		return ingested, skipped, fmt.Errorf("mark synced: %w", err)
	}
	return ingested, skipped, nil
}

var messageNamespace = uuid.MustParse("6f1c1c0e-8f6b-4c1e-9a55-3d1f7a9b2e40")

// MessageID derives a stable message id from the owning connection and the
// provider message id, so thread links can be resolved without a lookup.
func MessageID(connID, externalID string) string {
	return uuid.NewSHA1(messageNamespace, []byte(connID+"\x00"+externalID)).String()
}
