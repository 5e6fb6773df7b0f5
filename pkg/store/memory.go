package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

// MemoryStore is a volatile in-process backend, intended for tests and
// development. Safe for concurrent use across conversation ids; writers to
// the same conversation must still be serialized by the caller to avoid
// losing appends to the read-modify-write cycle.
type MemoryStore struct {
	opts options

	mu       sync.RWMutex
	messages map[string][]*types.StoredMessage
	metadata map[string]map[string]any
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:     newOptions(opts...),
		messages: make(map[string][]*types.StoredMessage),
		metadata: make(map[string]map[string]any),
	}
}

// Messages returns the conversation's history in timestamp order.
func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]*types.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	out := make([]*types.StoredMessage, len(stored))
	for i, sm := range stored {
		out[i] = sm.Clone()
	}
	sortByCreation(out)
	return out, nil
}

// AddMessage appends one message to its conversation.
func (s *MemoryStore) AddMessage(_ context.Context, msg *types.StoredMessage) (*types.StoredMessage, error) {
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("store: add message: missing conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sm := msg.Clone()
	s.opts.stamp(sm)
	s.messages[sm.ConversationID] = append(s.messages[sm.ConversationID], sm)
	return sm.Clone(), nil
}

// AddMessages appends a batch of messages.
func (s *MemoryStore) AddMessages(_ context.Context, msgs []*types.StoredMessage) ([]*types.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.StoredMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ConversationID == "" {
			return nil, fmt.Errorf("store: add messages: missing conversation id")
		}
		sm := msg.Clone()
		s.opts.stamp(sm)
		s.messages[sm.ConversationID] = append(s.messages[sm.ConversationID], sm)
		out = append(out, sm.Clone())
	}
	return out, nil
}

// ReplaceMessages rewrites a conversation's history with the given subset.
func (s *MemoryStore) ReplaceMessages(_ context.Context, conversationID string, msgs []*types.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]*types.StoredMessage, len(msgs))
	for i, sm := range msgs {
		clone := sm.Clone()
		clone.ConversationID = conversationID
		s.opts.stamp(clone)
		replaced[i] = clone
	}
	s.messages[conversationID] = replaced
	return nil
}

// UpdateMessage applies a partial update, searching all conversations.
func (s *MemoryStore) UpdateMessage(_ context.Context, id string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.messages {
		for _, sm := range msgs {
			if sm.ID == id {
				applyUpdate(sm, upd)
				return nil
			}
		}
	}
	return fmt.Errorf("store: update message %s: %w", id, ErrNotFound)
}

// DeleteMessage removes the message with the given id from whichever
// conversation holds it.
func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, msgs := range s.messages {
		for i, sm := range msgs {
			if sm.ID == id {
				s.messages[convID] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("store: delete message %s: %w", id, ErrNotFound)
}

// Clear removes a conversation's messages and metadata.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, conversationID)
	delete(s.metadata, conversationID)
	return nil
}

// Metadata returns the conversation's metadata map, or nil when unset.
func (s *MemoryStore) Metadata(_ context.Context, conversationID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[conversationID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out, nil
}

// SetMetadata replaces the conversation's metadata map.
func (s *MemoryStore) SetMetadata(_ context.Context, conversationID string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]any, len(meta))
	for k, v := range meta {
		stored[k] = v
	}
	s.metadata[conversationID] = stored
	return nil
}
