package remote

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fandirect/macbridge/internal/queue"
)

// Connect establishes a connection pool to the remote backend and verifies it
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Store is the remote backend mirror of the bridge's state: outbound status
// transitions, the tenant mapping table, inbound message records, and agent
// heartbeats. All writes are best-effort from the pipeline's perspective.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpdateOutboundStatus mirrors a pipeline state transition onto the outbound
// record. detail carries the last error or retry note when present.
func (s *Store) UpdateOutboundStatus(ctx context.Context, id string, status queue.Status, detail string) error {
	var d *string
	if detail != "" {
		d = &detail
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status=$2, status_detail=$3, updated_at=now()
		WHERE id=$1`, id, string(status), d)
	return err
}

// FetchMappings returns the full sender-to-tenant snapshot.
func (s *Store) FetchMappings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT fan_identifier, creator_id FROM fan_creator_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make(map[string]string)
	for rows.Next() {
		var sender, tenant string
		if err := rows.Scan(&sender, &tenant); err != nil {
			return nil, err
		}
		mappings[sender] = tenant
	}
	return mappings, rows.Err()
}

// InboundRecord is one relayed inbound message. Immutable once written.
type InboundRecord struct {
	TenantID       string
	Sender         string
	Text           string
	AttachmentURL  string
	SentAt         time.Time
	ConversationID string
}

// InsertInbound writes one inbound record. At-least-once: duplicates are only
// possible if the poll cursor is reset externally.
func (s *Store) InsertInbound(ctx context.Context, rec InboundRecord) error {
	var attachment *string
	if rec.AttachmentURL != "" {
		attachment = &rec.AttachmentURL
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbound_messages
			(creator_id, fan_identifier, message_text, attachment_url, sent_at, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TenantID, rec.Sender, rec.Text, attachment, rec.SentAt, rec.ConversationID)
	return err
}

// Heartbeat upserts this agent's liveness row.
func (s *Store) Heartbeat(ctx context.Context, host, version string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_heartbeats (vm_id, last_seen, agent_version)
		VALUES ($1, now(), $2)
		ON CONFLICT (vm_id) DO UPDATE SET last_seen=now(), agent_version=$2`,
		host, version)
	return err
}
