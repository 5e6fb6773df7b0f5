package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

const (
	bucketMessages = "mnemo_messages"
	bucketMetadata = "mnemo_metadata"
)

// BoltStore is a persistent local backend over a bbolt file. Each
// conversation's history is one JSON-encoded array under its conversation
// id; metadata lives in a sibling bucket under the same key.
//
// A history write that fails for lack of storage capacity is retried once
// after dropping the oldest half of the conversation. Other write failures
// propagate untouched; only capacity errors can be recovered by shrinking.
type BoltStore struct {
	opts options
	db   *bolt.DB
}

// NewBoltStore opens (creating if needed) the bbolt file at path.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketMessages, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{opts: newOptions(opts...), db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) readConversation(tx *bolt.Tx, conversationID string) ([]*types.StoredMessage, error) {
	data := tx.Bucket([]byte(bucketMessages)).Get([]byte(conversationID))
	if data == nil {
		return nil, nil
	}
	var msgs []*types.StoredMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("store: decode conversation %s: %w", conversationID, err)
	}
	return msgs, nil
}

// isQuotaError reports whether a write failed for lack of storage capacity,
// the one failure class where dropping history can recover the write.
func isQuotaError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

// writeConversation persists the full message array. A capacity failure is
// retried once with the oldest half dropped; any other failure propagates.
func (s *BoltStore) writeConversation(conversationID string, msgs []*types.StoredMessage) error {
	put := func(list []*types.StoredMessage) error {
		data, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("store: encode conversation %s: %w", conversationID, err)
		}
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(bucketMessages)).Put([]byte(conversationID), data)
		})
	}

	err := put(msgs)
	if err == nil || len(msgs) < 2 || !isQuotaError(err) {
		return err
	}

	kept := msgs[len(msgs)/2:]
	logDebugf("bolt %s: write failed with %v, dropping oldest %d of %d messages and retrying",
		conversationID, err, len(msgs)-len(kept), len(msgs))
	if retryErr := put(kept); retryErr != nil {
		return fmt.Errorf("store: write conversation %s after halving: %w", conversationID, retryErr)
	}
	return nil
}

// Messages returns the conversation's history in timestamp order.
func (s *BoltStore) Messages(_ context.Context, conversationID string) ([]*types.StoredMessage, error) {
	var msgs []*types.StoredMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		msgs, err = s.readConversation(tx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(msgs)
	return msgs, nil
}

// AddMessage appends one message to its conversation.
func (s *BoltStore) AddMessage(ctx context.Context, msg *types.StoredMessage) (*types.StoredMessage, error) {
	stored, err := s.AddMessages(ctx, []*types.StoredMessage{msg})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

// AddMessages appends a batch in one read-modify-write cycle.
func (s *BoltStore) AddMessages(ctx context.Context, msgs []*types.StoredMessage) ([]*types.StoredMessage, error) {
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

	if err := s.writeConversation(conversationID, existing); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceMessages rewrites a conversation's history with the given subset.
func (s *BoltStore) ReplaceMessages(_ context.Context, conversationID string, msgs []*types.StoredMessage) error {
	replaced := make([]*types.StoredMessage, len(msgs))
	for i, sm := range msgs {
		clone := sm.Clone()
		clone.ConversationID = conversationID
		s.opts.stamp(clone)
		replaced[i] = clone
	}
	return s.writeConversation(conversationID, replaced)
}

// UpdateMessage applies a partial update, scanning all conversations for
// the id.
func (s *BoltStore) UpdateMessage(_ context.Context, id string, upd Update) error {
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketMessages))
		return bucket.ForEach(func(key, data []byte) error {
			if found {
				return nil
			}
			var msgs []*types.StoredMessage
			if err := json.Unmarshal(data, &msgs); err != nil {
				return fmt.Errorf("store: decode conversation %s: %w", key, err)
			}
			for _, sm := range msgs {
				if sm.ID == id {
					applyUpdate(sm, upd)
					found = true
					updated, err := json.Marshal(msgs)
					if err != nil {
						return fmt.Errorf("store: encode conversation %s: %w", key, err)
					}
					return bucket.Put(key, updated)
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("store: update message %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes the message with the given id, scanning all
// conversations.
func (s *BoltStore) DeleteMessage(_ context.Context, id string) error {
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketMessages))
		return bucket.ForEach(func(key, data []byte) error {
			if found {
				return nil
			}
			var msgs []*types.StoredMessage
			if err := json.Unmarshal(data, &msgs); err != nil {
				return fmt.Errorf("store: decode conversation %s: %w", key, err)
			}
			for i, sm := range msgs {
				if sm.ID == id {
					msgs = append(msgs[:i], msgs[i+1:]...)
					found = true
					updated, err := json.Marshal(msgs)
					if err != nil {
						return fmt.Errorf("store: encode conversation %s: %w", key, err)
					}
					return bucket.Put(key, updated)
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("store: delete message %s: %w", id, ErrNotFound)
	}
	return nil
}

// Clear removes a conversation's messages and metadata.
func (s *BoltStore) Clear(_ context.Context, conversationID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketMessages)).Delete([]byte(conversationID)); err != nil {
			return fmt.Errorf("store: clear conversation %s: %w", conversationID, err)
		}
		if err := tx.Bucket([]byte(bucketMetadata)).Delete([]byte(conversationID)); err != nil {
			return fmt.Errorf("store: clear metadata %s: %w", conversationID, err)
		}
		return nil
	})
}

// Metadata returns the conversation's metadata map, or nil when unset.
func (s *BoltStore) Metadata(_ context.Context, conversationID string) (map[string]any, error) {
	var meta map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketMetadata)).Get([]byte(conversationID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("store: decode metadata %s: %w", conversationID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// SetMetadata replaces the conversation's metadata map.
func (s *BoltStore) SetMetadata(_ context.Context, conversationID string, meta map[string]any) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode metadata %s: %w", conversationID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMetadata)).Put([]byte(conversationID), data)
	})
}
