// Package stub implements the chat backend contract in memory: HTTP login
// plus a WebSocket snapshot stream. It backs cmd/chatstub for local
// development and the client tests.
package stub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"chatterm/internal/chat"
	"chatterm/internal/remote"
)

type account struct {
	userID      string
	senderLabel string
}

type subscriber struct {
	ch chan remote.SnapshotPayload
}

// Server holds the message log and the set of live subscribers. Every
// append re-broadcasts the full ordered snapshot to everyone, which is the
// contract the client's sync engine is built against.
type Server struct {
	logger *zap.Logger
	key    string

	mu       sync.Mutex
	msgs     []chat.Message
	subs     map[int]*subscriber
	nextSub  int
	tokens   map[string]account
	byClient map[string]chat.Message
}

// New creates an empty stub server for the given conversation key.
func New(conversationKey string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:   logger,
		key:      conversationKey,
		subs:     make(map[int]*subscriber),
		tokens:   make(map[string]account),
		byClient: make(map[string]chat.Message),
	}
}

// Handler returns the HTTP handler serving /login and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// RegisterToken pre-registers a token, bypassing /login. Test hook.
func (s *Server) RegisterToken(token, senderLabel string) {
	s.mu.Lock()
	s.tokens[token] = account{userID: uuid.New().String(), senderLabel: senderLabel}
	s.mu.Unlock()
}

// Seed installs an initial message log. Test hook; call before serving.
func (s *Server) Seed(msgs []chat.Message) {
	s.mu.Lock()
	s.msgs = append([]chat.Message(nil), msgs...)
	s.mu.Unlock()
}

// AppendDirect appends a message server-side and broadcasts the new
// snapshot, as if another device had sent it.
func (s *Server) AppendDirect(m chat.Message) chat.Message {
	assigned, _ := s.append("", m)
	s.broadcast()
	return assigned
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, remote.ErrorPayload{Message: "email and password required"})
		return
	}

	// Any non-empty credentials are accepted; this is a dev backend.
	label, _, _ := strings.Cut(req.Email, "@")
	token := uuid.New().String()
	s.mu.Lock()
	s.tokens[token] = account{userID: uuid.New().String(), senderLabel: label}
	s.mu.Unlock()

	s.logger.Info("login", zap.String("sender_label", label))
	writeJSON(w, http.StatusOK, remote.LoginResult{Token: token, SenderLabel: label})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acct, ok := s.tokens[r.URL.Query().Get("token")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	conn.SetReadLimit(16 << 20)
	defer func() { _ = conn.Close(websocket.StatusInternalError, "server closing") }()

	ctx := r.Context()

	if err := writeEnvelope(ctx, conn, remote.EventAuthenticated, remote.AuthenticatedPayload{
		UserID:      acct.userID,
		SenderLabel: acct.senderLabel,
	}, ""); err != nil {
		return
	}

	sub := &subscriber{ch: make(chan remote.SnapshotPayload, 16)}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}()

	// Initial full snapshot, then one per change.
	sub.ch <- snap
	go func() {
		for {
			select {
			case snap := <-sub.ch:
				if writeEnvelope(ctx, conn, remote.EventSnapshot, snap, "") != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env remote.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Type != remote.CommandAppend {
			continue
		}

		var payload remote.AppendPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			_ = writeEnvelope(ctx, conn, remote.EventError, remote.ErrorPayload{Message: "bad append payload"}, env.RequestID)
			continue
		}

		assigned, fresh := s.append(payload.ClientMsgID, chat.Message{
			SenderLabel:  payload.SenderLabel,
			Kind:         payload.Kind,
			Body:         payload.Body,
			ImagePayload: payload.ImagePayload,
		})
		_ = writeEnvelope(ctx, conn, remote.EventAppendAck, remote.AppendAckPayload{
			RequestID: env.RequestID,
			Message:   assigned,
		}, env.RequestID)
		if fresh {
			s.broadcast()
		}
	}
}

// append gives a message its server-side identity: uuid id and the current
// time as createdAt. clientMsgID is the idempotency key; re-sending a seen
// id returns the originally assigned message and stores nothing. Reports
// whether the message is new.
func (s *Server) append(clientMsgID string, m chat.Message) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientMsgID != "" {
		if prev, seen := s.byClient[clientMsgID]; seen {
			return prev, false
		}
	}

	m.ID = uuid.New().String()
	m.CreatedAt = chat.StampAt(time.Now().UnixMilli())
	s.msgs = append(s.msgs, m)
	if clientMsgID != "" {
		s.byClient[clientMsgID] = m
	}
	return m, true
}

func (s *Server) broadcast() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	for _, sub := range s.subs {
		select {
		case sub.ch <- snap:
		default:
			// Slow subscriber; it will catch up on the next change.
		}
	}
	s.mu.Unlock()
}

func (s *Server) snapshotLocked() remote.SnapshotPayload {
	return remote.SnapshotPayload{
		ConversationKey: s.key,
		Messages:        append([]chat.Message(nil), s.msgs...),
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, typ string, payload any, requestID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := remote.Envelope{Type: typ, Payload: data, RequestID: requestID}
	out, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
