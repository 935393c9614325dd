package model

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatterm/internal/cache"
	"chatterm/internal/chat"
	"chatterm/internal/compose"
	"chatterm/internal/config"
	"chatterm/internal/outbox"
	"chatterm/internal/remote"
	chatsync "chatterm/internal/sync"
)

// ViewModel mediates between the UI and the sync/outbox machinery. The UI
// reads one merged message list from it: the reconciled view followed by
// the not-yet-acknowledged outbox tail.
type ViewModel struct {
	mu sync.RWMutex

	engine          *chatsync.Engine
	db              *cache.DB
	client          *remote.Client
	sender          *outbox.Sender
	baseURL         string
	credentialsPath string
	conversationKey string
	senderLabel     string

	Flash Flash
}

// NewViewModel creates a view model over the given engine, cache and
// outbox sender.
func NewViewModel(engine *chatsync.Engine, db *cache.DB, client *remote.Client, sender *outbox.Sender, baseURL, credentialsPath, conversationKey string) *ViewModel {
	return &ViewModel{
		engine:          engine,
		db:              db,
		client:          client,
		sender:          sender,
		baseURL:         baseURL,
		credentialsPath: credentialsPath,
		conversationKey: conversationKey,
	}
}

// SenderLabel returns the label shown next to the viewer's own messages.
func (vm *ViewModel) SenderLabel() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.senderLabel
}

// SetSenderLabel installs the viewer's label, e.g. from saved credentials.
func (vm *ViewModel) SetSenderLabel(label string) {
	vm.mu.Lock()
	vm.senderLabel = label
	vm.mu.Unlock()
}

// Login exchanges credentials for a token, persists it, and connects the
// snapshot stream.
func (vm *ViewModel) Login(ctx context.Context, email, password string) error {
	result, err := remote.Login(ctx, nil, vm.baseURL, email, password)
	if err != nil {
		return err
	}

	if err := config.SaveCredentials(vm.credentialsPath, &config.Credentials{
		Token:       result.Token,
		SenderLabel: result.SenderLabel,
	}); err != nil {
		return err
	}

	vm.SetSenderLabel(result.SenderLabel)
	vm.client.SetToken(result.Token)
	return vm.client.Connect(ctx)
}

// Logout blanks the saved credentials and closes the snapshot stream. The
// cache and outbox stay: messages composed while logged out are sent after
// the next sign-in.
func (vm *ViewModel) Logout() error {
	if err := config.SaveCredentials(vm.credentialsPath, &config.Credentials{}); err != nil {
		return err
	}
	vm.SetSenderLabel("")
	if vm.client != nil {
		vm.client.SetToken("")
		return vm.client.Close()
	}
	return nil
}

// Messages returns the merged list the thread renders: the reconciled view
// first, then locally composed messages the server has not acknowledged
// yet. The tail entries have pending timestamps and sort nowhere; they sit
// at the bottom until a snapshot includes their server-assigned form.
func (vm *ViewModel) Messages() []chat.Message {
	msgs := vm.engine.Messages()

	unsent, err := vm.db.UnsentOutbox()
	if err != nil {
		return msgs
	}
	for _, entry := range unsent {
		msgs = append(msgs, entry.Message())
	}
	return msgs
}

// SendText composes a text message and queues it for delivery. The queued
// copy appears in Messages immediately.
func (vm *ViewModel) SendText(text string) error {
	m, err := compose.Text(text, vm.SenderLabel())
	if err != nil {
		return err
	}
	return vm.db.QueueOutbox(uuid.New().String(), vm.conversationKey, m)
}

// SendImage reads an image file and queues it as an inline image message.
func (vm *ViewModel) SendImage(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := compose.Image(raw, vm.SenderLabel())
	if err != nil {
		return err
	}
	return vm.db.QueueOutbox(uuid.New().String(), vm.conversationKey, m)
}

// RetryFailed requeues failed outbox entries and flashes a note.
func (vm *ViewModel) RetryFailed() error {
	if err := vm.sender.RetryFailed(); err != nil {
		return err
	}
	vm.Flash.Set("Retrying failed messages", 3*time.Second)
	return nil
}
