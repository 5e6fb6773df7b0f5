package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	// Postgres driver, registered for database/sql.
	_ "github.com/lib/pq"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

const (
	messagesKeyPrefix = "mnemo:messages:"
	metadataKeyPrefix = "mnemo:meta:"
)

// SQLStore is a network key/value backend over Postgres. Conversations map
// to rows in a single table: the full message array as one JSONB value under
// a namespaced key, metadata under a sibling key. Writes upsert the whole
// blob, preserving the engine's last-write-wins-per-conversation semantics.
//
// An optional TTL (set via WithTTL) stamps every written key with an expiry;
// expired rows read as absent and can be removed with Purge.
type SQLStore struct {
	opts options
	db   *sqlx.DB
}

// NewSQLStore wraps an open sqlx handle. The caller owns the handle's
// lifecycle; call Migrate before first use on a fresh database.
func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	return &SQLStore{opts: newOptions(opts...), db: db}
}

// OpenSQLStore connects to Postgres with the given DSN and runs Migrate.
func OpenSQLStore(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	s := NewSQLStore(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the backing table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS mnemo_kv (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) getValue(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	query := `
		SELECT value FROM mnemo_kv
		WHERE key = $1
			AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`
	err := s.db.GetContext(ctx, &raw, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: read key %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("store: decode key %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLStore) setValue(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode key %s: %w", key, err)
	}
	query := `
		INSERT INTO mnemo_kv (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3::bigint > 0
			THEN CURRENT_TIMESTAMP + make_interval(secs => $3::bigint)
			ELSE NULL END)
		ON CONFLICT (key)
		DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, raw, int64(s.opts.ttl.Seconds())); err != nil {
		return fmt.Errorf("store: write key %s: %w", key, err)
	}
	return nil
}

// Messages returns the conversation's history in timestamp order.
func (s *SQLStore) Messages(ctx context.Context, conversationID string) ([]*types.StoredMessage, error) {
	var msgs []*types.StoredMessage
	if _, err := s.getValue(ctx, messagesKeyPrefix+conversationID, &msgs); err != nil {
		return nil, err
	}
	sortByCreation(msgs)
	return msgs, nil
}

// AddMessage appends one message to its conversation.
func (s *SQLStore) AddMessage(ctx context.Context, msg *types.StoredMessage) (*types.StoredMessage, error) {
	stored, err := s.AddMessages(ctx, []*types.StoredMessage{msg})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

// AddMessages appends a batch in one read-modify-write cycle.
func (s *SQLStore) AddMessages(ctx context.Context, msgs []*types.StoredMessage) ([]*types.StoredMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	conversationID := msgs[0].ConversationID
	if conversationID == "" {
		return nil, fmt.Errorf("store: add messages: missing conversation id")
	}

	existing, err := s.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.StoredMessage, 0, len(msgs))
	for _, msg := range msgs {
		sm := msg.Clone()
		sm.ConversationID = conversationID
		s.opts.stamp(sm)
		existing = append(existing, sm)
		out = append(out, sm.Clone())
	}

	if err := s.setValue(ctx, messagesKeyPrefix+conversationID, existing); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceMessages rewrites a conversation's history with the given subset.
func (s *SQLStore) ReplaceMessages(ctx context.Context, conversationID string, msgs []*types.StoredMessage) error {
	replaced := make([]*types.StoredMessage, len(msgs))
	for i, sm := range msgs {
		clone := sm.Clone()
		clone.ConversationID = conversationID
		s.opts.stamp(clone)
		replaced[i] = clone
	}
	return s.setValue(ctx, messagesKeyPrefix+conversationID, replaced)
}

// conversationKeys lists every live message key. Used by the id-addressed
// operations, which must search across conversations.
func (s *SQLStore) conversationKeys(ctx context.Context) ([]string, error) {
	var keys []string
	query := `
		SELECT key FROM mnemo_kv
		WHERE key LIKE $1
			AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`
	if err := s.db.SelectContext(ctx, &keys, query, messagesKeyPrefix+"%"); err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return keys, nil
}

// UpdateMessage applies a partial update, searching all conversations.
func (s *SQLStore) UpdateMessage(ctx context.Context, id string, upd Update) error {
	keys, err := s.conversationKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		var msgs []*types.StoredMessage
		ok, err := s.getValue(ctx, key, &msgs)
		if err != nil || !ok {
			if err != nil {
				return err
			}
			continue
		}
		for _, sm := range msgs {
			if sm.ID == id {
				applyUpdate(sm, upd)
				return s.setValue(ctx, key, msgs)
			}
		}
	}
	return fmt.Errorf("store: update message %s: %w", id, ErrNotFound)
}

// DeleteMessage removes the message with the given id, searching all
// conversations.
func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	keys, err := s.conversationKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		var msgs []*types.StoredMessage
		ok, err := s.getValue(ctx, key, &msgs)
		if err != nil || !ok {
			if err != nil {
				return err
			}
			continue
		}
		for i, sm := range msgs {
			if sm.ID == id {
				msgs = append(msgs[:i], msgs[i+1:]...)
				return s.setValue(ctx, key, msgs)
			}
		}
	}
	return fmt.Errorf("store: delete message %s: %w", id, ErrNotFound)
}

// Clear removes a conversation's messages and metadata.
func (s *SQLStore) Clear(ctx context.Context, conversationID string) error {
	query := `DELETE FROM mnemo_kv WHERE key = $1 OR key = $2`
	_, err := s.db.ExecContext(ctx, query,
		messagesKeyPrefix+conversationID, metadataKeyPrefix+conversationID)
	if err != nil {
		return fmt.Errorf("store: clear conversation %s: %w", conversationID, err)
	}
	return nil
}

// Metadata returns the conversation's metadata map, or nil when unset.
func (s *SQLStore) Metadata(ctx context.Context, conversationID string) (map[string]any, error) {
	var meta map[string]any
	ok, err := s.getValue(ctx, metadataKeyPrefix+conversationID, &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return meta, nil
}

// SetMetadata replaces the conversation's metadata map.
func (s *SQLStore) SetMetadata(ctx context.Context, conversationID string, meta map[string]any) error {
	return s.setValue(ctx, metadataKeyPrefix+conversationID, meta)
}

// Purge removes expired rows and reports how many were deleted.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM mnemo_kv
		WHERE expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP
	`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("store: purge expired: %w", err)
	}
	return result.RowsAffected()
}
