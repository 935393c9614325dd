// Package outbox drains locally queued messages to the remote stream. A
// composed message is durable in the cache before any network attempt, so
// a crash or disconnect never loses it.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatterm/internal/bus"
	"chatterm/internal/cache"
	"chatterm/internal/chat"
)

// Appender writes one message to the remote log and returns the
// server-assigned copy. clientMsgID is the idempotency key, so retrying
// an entry whose ack was lost cannot duplicate it server-side.
type Appender interface {
	Append(ctx context.Context, clientMsgID string, m chat.Message) (chat.Message, error)
}

// Sender polls the outbox table and pushes queued entries upstream one at
// a time, oldest first.
type Sender struct {
	db       *cache.DB
	bus      *bus.Bus
	appender Appender
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates an outbox sender polling at the given interval.
// Zero interval means 500ms.
func NewSender(db *cache.DB, b *bus.Bus, appender Appender, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		bus:      b,
		appender: appender,
		logger:   logger,
		interval: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.drain(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight send to finish marking
// its entry.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// RetryFailed requeues all failed entries so the next poll picks them up.
func (s *Sender) RetryFailed() error {
	return s.db.RequeueFailed()
}

func (s *Sender) drain(ctx context.Context) {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Warn("outbox poll failed", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		s.sendOne(ctx, entry)
	}
}

func (s *Sender) sendOne(ctx context.Context, entry cache.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Warn("outbox mark sending failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		return
	}

	assigned, err := s.appender.Append(ctx, entry.ClientMsgID, entry.Message())
	if err != nil {
		s.logger.Warn("outbox send failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		if markErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); markErr != nil {
			s.logger.Error("outbox mark failed failed", zap.Error(markErr))
		}
		s.bus.Publish(bus.Event{
			Kind:      "outbox.send_failed",
			Timestamp: time.Now(),
			Payload:   entry.ClientMsgID,
		})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, assigned.ID); err != nil {
		s.logger.Error("outbox mark sent failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}
	s.logger.Info("outbox entry sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("server_msg_id", assigned.ID))
	s.bus.Publish(bus.Event{
		Kind:      "outbox.sent",
		Timestamp: time.Now(),
		Payload:   entry.ClientMsgID,
	})
}
