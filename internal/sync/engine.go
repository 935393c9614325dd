// Package sync reconciles two sources of truth for a conversation: the
// locally cached message list and the live remote snapshot stream. The
// remote is authoritative; the cache only bridges the gap until the first
// live snapshot arrives.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatterm/internal/bus"
	"chatterm/internal/cache"
	"chatterm/internal/chat"
	"chatterm/internal/remote"
)

// Engine owns the reconciled message list for one conversation. Snapshots
// are applied strictly one at a time in arrival order; readers only ever
// see a complete view, never a partially applied one.
type Engine struct {
	db     *cache.DB
	bus    *bus.Bus
	logger *zap.Logger
	key    string

	mu     sync.RWMutex
	view   []chat.Message
	seeded bool

	// persistCh holds at most the latest unsaved view. Writes drain any
	// superseded entry first, so cache writes can never reorder behind a
	// fresher snapshot.
	persistCh chan []chat.Message
	cancel    context.CancelFunc
}

// NewEngine creates a reconciliation engine for one conversation key.
func NewEngine(db *cache.DB, b *bus.Bus, conversationKey string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:        db,
		bus:       b,
		logger:    logger,
		key:       conversationKey,
		persistCh: make(chan []chat.Message, 1),
	}
}

// Seed installs the cached message list as the initial view. Called once
// per session, before Start; a missing or unreadable cache means starting
// empty. Never fails the session.
func (e *Engine) Seed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seeded {
		return
	}
	e.seeded = true

	msgs, err := e.db.LoadSnapshot(e.key)
	if err != nil {
		var corrupt *chat.CorruptDataError
		if errors.As(err, &corrupt) {
			e.logger.Warn("discarding unreadable cache blob", zap.Error(err))
		} else {
			e.logger.Warn("cache load failed, starting empty", zap.Error(err))
		}
		return
	}
	if len(msgs) == 0 {
		return
	}
	e.view = msgs
	e.logger.Info("seeded view from cache", zap.Int("messages", len(msgs)))
}

// Start subscribes to remote snapshot events and begins the cache writer.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("remote.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	go e.persistLoop(ctx)
}

// Stop stops the engine. The view is no longer mutated after this.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if evt.Kind != "remote.snapshot" {
		return
	}
	snap, ok := evt.Payload.(remote.SnapshotPayload)
	if !ok {
		return
	}
	// Snapshots for other conversations never touch this engine's slot.
	if snap.ConversationKey != e.key {
		return
	}
	e.ApplySnapshot(snap.Messages)
}

// ApplySnapshot replaces the view wholesale with the given remote
// snapshot. Entries without an id are dropped with a warning, duplicates
// keep their first occurrence, and the remaining order is preserved
// exactly as delivered — the server's ordering contract is trusted, and
// entries with a pending createdAt keep their relative positions.
// Idempotent: applying the same snapshot twice yields the same view.
// Returns the new view.
func (e *Engine) ApplySnapshot(msgs []chat.Message) []chat.Message {
	cleaned := make([]chat.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	dropped := 0
	for _, m := range msgs {
		if m.ID == "" {
			dropped++
			continue
		}
		if _, dup := seen[m.ID]; dup {
			dropped++
			continue
		}
		seen[m.ID] = struct{}{}
		cleaned = append(cleaned, m)
	}
	if dropped > 0 {
		e.logger.Warn("dropped malformed snapshot entries",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(cleaned)))
	}

	e.mu.Lock()
	e.view = cleaned
	e.mu.Unlock()

	e.enqueuePersist(cleaned)

	e.bus.Publish(bus.Event{
		Kind:      "view.updated",
		Timestamp: time.Now(),
		Payload:   len(cleaned),
	})

	return append([]chat.Message(nil), cleaned...)
}

// Messages returns an immutable copy of the current view.
func (e *Engine) Messages() []chat.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]chat.Message(nil), e.view...)
}

// enqueuePersist hands the view to the cache writer without blocking
// snapshot processing. A still-unsaved older view is discarded first:
// only the newest view ever reaches the cache.
func (e *Engine) enqueuePersist(msgs []chat.Message) {
	for {
		select {
		case e.persistCh <- msgs:
			return
		default:
			select {
			case <-e.persistCh:
			default:
			}
		}
	}
}

// persistLoop is the single cache writer for this conversation key. A
// failed write is logged and dropped; the in-memory view stays correct
// and the next snapshot will write a fresh blob anyway.
func (e *Engine) persistLoop(ctx context.Context) {
	for {
		select {
		case msgs := <-e.persistCh:
			if err := e.db.SaveSnapshot(e.key, msgs); err != nil {
				e.logger.Warn("cache persist failed", zap.Error(err), zap.Int("messages", len(msgs)))
			}
		case <-ctx.Done():
			return
		}
	}
}
