// Package store defines the persistence contract for conversation history
// and provides three interchangeable backends: an in-process map, an
// embedded bbolt key/value file, and a Postgres-backed key/value table.
//
// All backends share the same granularity: a conversation's messages are
// read and written as one ordered array. Concurrent writers to the same
// conversation id therefore race last-write-wins and must be serialized by
// the caller; distinct conversation ids are fully independent.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/mnemo/pkg/logging"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

// ErrNotFound is returned when a message id does not exist in any
// conversation held by the store.
var ErrNotFound = errors.New("store: message not found")

var (
	debugLog     *logging.Logger
	debugLogOnce sync.Once
)

// logDebugf opens the session log lazily on the first trace, so importing
// the package has no filesystem side effects.
func logDebugf(format string, v ...interface{}) {
	debugLogOnce.Do(func() {
		debugLog, _ = logging.NewLogger("store")
	})
	debugLog.Debugf(format, v...)
}

// Clock supplies creation timestamps. Injected so stores stay deterministic
// under test.
type Clock func() time.Time

// IDGenerator supplies message ids. Injected for the same reason as Clock.
type IDGenerator func() string

// Update is a partial modification of a stored message. Nil fields are left
// untouched.
type Update struct {
	Content    *string
	TokenCount *int
	Embedding  []float32
	Metadata   map[string]any
}

// Store persists per-conversation message history plus an opaque metadata
// map per conversation (used by summarizing strategies to hold the rolling
// summary).
//
// Messages returns history sorted by creation time; backends are not
// required to preserve insertion order internally, so every read path sorts.
// UpdateMessage and DeleteMessage address a message by id alone and search
// across conversations when the backend does not index by id.
type Store interface {
	// Messages returns the conversation's history in timestamp order.
	// An unknown conversation id yields an empty slice, not an error.
	Messages(ctx context.Context, conversationID string) ([]*types.StoredMessage, error)

	// AddMessage appends one message, stamping a fresh id and timestamp
	// when the caller left them zero, and returns the stored form.
	AddMessage(ctx context.Context, msg *types.StoredMessage) (*types.StoredMessage, error)

	// AddMessages appends a batch in one write cycle.
	AddMessages(ctx context.Context, msgs []*types.StoredMessage) ([]*types.StoredMessage, error)

	// ReplaceMessages rewrites a conversation's full history. This is the
	// compaction write path: strategies trim or summarize and write back
	// the survivors, preserving their original ids and timestamps.
	ReplaceMessages(ctx context.Context, conversationID string, msgs []*types.StoredMessage) error

	// UpdateMessage applies a partial update to the message with the given id.
	UpdateMessage(ctx context.Context, id string, upd Update) error

	// DeleteMessage removes the message with the given id.
	DeleteMessage(ctx context.Context, id string) error

	// Clear removes a conversation's messages and its metadata.
	Clear(ctx context.Context, conversationID string) error

	// Metadata returns the conversation's metadata map, or nil when none
	// has been set.
	Metadata(ctx context.Context, conversationID string) (map[string]any, error)

	// SetMetadata replaces the conversation's metadata map.
	SetMetadata(ctx context.Context, conversationID string, meta map[string]any) error
}

type options struct {
	clock  Clock
	idGen  IDGenerator
	ttl    time.Duration
	bucket string
}

// Option configures a store backend.
type Option func(*options)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator overrides the message id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.idGen = g }
}

// WithTTL sets an expiration window applied to every written key. Only the
// SQL backend honors expiry; the others ignore it.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

func newOptions(opts ...Option) options {
	o := options{
		clock: time.Now,
		idGen: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamp fills in id and creation time on a message about to be persisted.
func (o *options) stamp(sm *types.StoredMessage) {
	if sm.ID == "" {
		sm.ID = o.idGen()
	}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = o.clock()
	}
}

// sortByCreation orders messages by timestamp, breaking ties by id so the
// order is total and stable across backends.
func sortByCreation(msgs []*types.StoredMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// applyUpdate mutates a stored message in place per the partial update.
func applyUpdate(sm *types.StoredMessage, upd Update) {
	if upd.Content != nil {
		sm.Message.Content = *upd.Content
	}
	if upd.TokenCount != nil {
		sm.TokenCount = *upd.TokenCount
	}
	if upd.Embedding != nil {
		sm.Embedding = append([]float32(nil), upd.Embedding...)
	}
	if upd.Metadata != nil {
		if sm.Metadata == nil {
			sm.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			sm.Metadata[k] = v
		}
	}
}
