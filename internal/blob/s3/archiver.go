package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/metrics"
)

// ArchiveWriter uploads one archive object. Writer is the production
// implementation.
type ArchiveWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ResolvedEventSource lists trade events that reached a terminal state.
type ResolvedEventSource interface {
	ListResolvedBetween(ctx context.Context, from, to time.Time) ([]domain.TradeEvent, error)
}

// Archiver uploads each UTC day's resolved trade events as JSON lines to
// events/YYYY/MM/DD.jsonl. Rows stay in the primary store.
type Archiver struct {
	writer   ArchiveWriter
	events   ResolvedEventSource
	audit    domain.AuditStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver that runs every interval (24h when unset).
func NewArchiver(
	writer ArchiveWriter,
	events ResolvedEventSource,
	audit domain.AuditStore,
	interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		writer:   writer,
		events:   events,
		audit:    audit,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Run archives the previous UTC day immediately and then every interval.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		day := a.now().UTC().AddDate(0, 0, -1)
		if _, err := a.ArchiveDay(ctx, day); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "archive failed",
				slog.String("day", day.Format(time.DateOnly)),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ArchiveDay uploads the events resolved during day's UTC date and returns
// how many were written. Re-running a day overwrites its object.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	events, err := a.events.ListResolvedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query %s: %w", from.Format(time.DateOnly), err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(from)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		metrics.ArchiveUploads.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	metrics.ArchiveUploads.WithLabelValues("ok").Inc()

	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int("count", len(events)),
		slog.Int("bytes", len(buf)),
	)
	if err := a.audit.Log(ctx, domain.AuditArchiveUploaded, map[string]any{
		"path":  path,
		"count": len(events),
		"day":   from.Format(time.DateOnly),
	}); err != nil {
		return len(events), fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return len(events), nil
}

// archivePath partitions archives by UTC date:
//
//	events/2026/03/01.jsonl
func archivePath(day time.Time) string {
	return "events/" + day.Format("2006/01/02") + ".jsonl"
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
