// Package poller ingests new incoming messages from the local chat store and
// relays them to the remote backend.
package poller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/fandirect/macbridge/internal/chatdb"
	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/metrics"
	"github.com/fandirect/macbridge/internal/queue"
	"github.com/fandirect/macbridge/internal/remote"
	"github.com/fandirect/macbridge/internal/storage"
	"github.com/fandirect/macbridge/internal/tracing"
)

// RowSource yields incoming message rows past a cursor.
type RowSource interface {
	QueryMaxRowID(ctx context.Context) (int64, error)
	QueryNewRows(ctx context.Context, cursor int64) ([]chatdb.Row, error)
}

// Resolver maps a sender identifier to a tenant.
type Resolver interface {
	Resolve(sender string) (tenantID string, ok bool)
}

// AttachmentRelay uploads a local attachment and returns its public URL.
type AttachmentRelay interface {
	Relay(ctx context.Context, localPath, key string) (string, error)
}

// InboundSink persists relayed inbound records.
type InboundSink interface {
	InsertInbound(ctx context.Context, rec remote.InboundRecord) error
}

// Options configures a Poller. Zero values get sensible defaults.
type Options struct {
	MessagesDir  string        // base dir attachment paths are relative to
	PollInterval time.Duration // default 10s
	WatchPath    string        // chat store path to watch for change hints, "" disables
	Clock        queue.Clock
	Logger       *logging.Logger
}

// Poller drains the chat store cursor-forward and mirrors each mapped row to
// the remote backend. The cursor only advances past a row once that row has
// been persisted or deliberately skipped (unmapped sender).
type Poller struct {
	source   RowSource
	resolver Resolver
	relay    AttachmentRelay
	sink     InboundSink

	messagesDir string
	interval    time.Duration
	watchPath   string
	clock       queue.Clock
	log         *logging.Logger

	cursor int64
	wake   chan struct{}
}

func New(source RowSource, resolver Resolver, relay AttachmentRelay, sink InboundSink, opts Options) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = queue.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("ingest-poller")
	}
	return &Poller{
		source:      source,
		resolver:    resolver,
		relay:       relay,
		sink:        sink,
		messagesDir: opts.MessagesDir,
		interval:    opts.PollInterval,
		watchPath:   opts.WatchPath,
		clock:       opts.Clock,
		log:         opts.Logger,
		wake:        make(chan struct{}, 1),
	}
}

// Init positions the cursor at the newest existing row so pre-existing
// history is never re-ingested.
func (p *Poller) Init(ctx context.Context) error {
	max, err := p.source.QueryMaxRowID(ctx)
	if err != nil {
		return fmt.Errorf("initialize cursor: %w", err)
	}
	p.cursor = max
	p.log.Plain().WithRow(max).Info("poll cursor initialized")
	return nil
}

// Cursor returns the current poll position.
func (p *Poller) Cursor() int64 {
	return p.cursor
}

// Run polls until ctx is cancelled. Polls never overlap; a filesystem change
// hint only shortens the wait until the next one.
func (p *Poller) Run(ctx context.Context) {
	if p.watchPath != "" {
		stop := p.watch(ctx)
		defer stop()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.wake:
			p.Poll(ctx)
		}
	}
}

// watch emits wake hints when the chat store's directory changes. The store
// is WAL-backed, so writes usually land in sibling files; watching the
// directory catches them all. Failure to watch degrades to interval polling.
func (p *Poller) watch(ctx context.Context) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Plain().WithError(err).Warn("change watcher unavailable, falling back to interval polling")
		return func() {}
	}
	if err := watcher.Add(filepath.Dir(p.watchPath)); err != nil {
		p.log.Plain().WithError(err).Warn("cannot watch chat store directory")
		_ = watcher.Close()
		return func() {}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case p.wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Plain().WithError(err).Warn("change watcher error")
			}
		}
	}()
	return func() { _ = watcher.Close() }
}

// Poll processes every row past the cursor once. A row that fails to persist
// does not advance the cursor, but later rows are still attempted; a
// subsequent success moves the cursor past the failed row.
func (p *Poller) Poll(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "poller.poll")
	defer span.End()
	start := p.clock.Now()
	defer func() {
		metrics.PollDuration.Observe(p.clock.Now().Sub(start).Seconds())
	}()

	rows, err := p.source.QueryNewRows(ctx, p.cursor)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.log.Plain().WithError(err).WithRow(p.cursor).Error("failed to query chat store")
		return
	}
	if len(rows) == 0 {
		return
	}
	p.log.Plain().WithField("count", len(rows)).WithRow(p.cursor).Info("found new incoming messages")

	for _, row := range rows {
		if err := p.processRow(ctx, row); err != nil {
			metrics.InboundRowsTotal.WithLabelValues("failed").Inc()
			p.log.Plain().WithError(err).WithRow(row.RowID).WithSender(row.Sender).Error("failed to relay inbound row")
			continue
		}
		p.cursor = row.RowID
	}
}

func (p *Poller) processRow(ctx context.Context, row chatdb.Row) error {
	tenantID, ok := p.resolver.Resolve(row.Sender)
	if !ok {
		metrics.InboundRowsTotal.WithLabelValues("unmapped").Inc()
		p.log.Plain().WithRow(row.RowID).WithSender(row.Sender).Info("no tenant mapping for sender, skipping")
		return nil
	}

	var attachmentURL string
	if row.AttachmentPath != "" {
		attachmentURL = p.relayAttachment(ctx, row, tenantID)
	}

	rec := remote.InboundRecord{
		TenantID:       tenantID,
		Sender:         row.Sender,
		Text:           row.Text,
		AttachmentURL:  attachmentURL,
		SentAt:         row.Date,
		ConversationID: row.ChatGUID,
	}
	if err := p.sink.InsertInbound(ctx, rec); err != nil {
		return fmt.Errorf("persist inbound record: %w", err)
	}
	metrics.InboundRowsTotal.WithLabelValues("persisted").Inc()
	p.log.Plain().WithRow(row.RowID).WithTenant(tenantID).WithSender(row.Sender).Info("inbound message relayed")
	return nil
}

// relayAttachment uploads the row's attachment and returns its URL, or ""
// when the upload cannot happen. A missing or failed attachment never blocks
// the text: the record is persisted text-only.
func (p *Poller) relayAttachment(ctx context.Context, row chatdb.Row, tenantID string) string {
	local := filepath.Join(p.messagesDir, row.AttachmentPath)
	key := fmt.Sprintf("%s/attachments/%s_%s", tenantID, uuid.NewString(), filepath.Base(row.AttachmentPath))

	url, err := p.relay.Relay(ctx, local, key)
	if err != nil {
		entry := p.log.Plain().WithError(err).WithRow(row.RowID).WithTenant(tenantID).WithField("path", local)
		if errors.Is(err, storage.ErrSourceMissing) {
			entry.Warn("attachment file not found, relaying text only")
		} else {
			entry.Error("attachment upload failed, relaying text only")
		}
		return ""
	}
	return url
}
