package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"chatterm/internal/bus"
	"chatterm/internal/chat"
	"chatterm/internal/remote"
	"chatterm/internal/remote/stub"
	"chatterm/internal/status"
)

func testServer(t *testing.T) (*stub.Server, *httptest.Server) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	srv := stub.New("global", logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func testClient(t *testing.T, baseURL, token string) (*remote.Client, *bus.Bus, *status.Machine) {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	logger, _ := zap.NewDevelopment()
	c := remote.NewClient(remote.Config{
		BaseURL:       baseURL,
		Token:         token,
		AutoReconnect: false,
		AppendTimeout: 2 * time.Second,
	}, b, m, logger)
	t.Cleanup(func() { _ = c.Close() })
	return c, b, m
}

func waitSnapshot(t *testing.T, ch <-chan bus.Event) remote.SnapshotPayload {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind != "remote.snapshot" {
				continue
			}
			return evt.Payload.(remote.SnapshotPayload)
		case <-deadline:
			t.Fatal("timeout waiting for remote.snapshot")
		}
	}
}

func TestLogin(t *testing.T) {
	_, ts := testServer(t)

	result, err := remote.Login(context.Background(), ts.Client(), ts.URL, "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Token == "" {
		t.Error("token is empty")
	}
	if result.SenderLabel != "alice" {
		t.Errorf("senderLabel = %q, want alice (email local part)", result.SenderLabel)
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	_, ts := testServer(t)

	if _, err := remote.Login(context.Background(), ts.Client(), ts.URL, "", ""); err == nil {
		t.Fatal("Login() with empty credentials should fail")
	}
}

func TestLoginUnreachableServer(t *testing.T) {
	_, err := remote.Login(context.Background(), nil, "http://127.0.0.1:1", "a@b", "c")
	var terr *chat.TransientError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want TransientError", err)
	}
}

func TestConnectDeliversInitialSnapshot(t *testing.T) {
	srv, ts := testServer(t)
	srv.RegisterToken("tok", "alice")
	srv.Seed([]chat.Message{
		{ID: "m1", SenderLabel: "bob", Kind: chat.KindText, Body: "hi", CreatedAt: chat.StampAt(1000)},
	})

	c, b, m := testClient(t, ts.URL, "tok")
	ch, unsub := b.Subscribe("remote.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	snap := waitSnapshot(t, ch)
	if snap.ConversationKey != "global" {
		t.Errorf("conversationKey = %q, want global", snap.ConversationKey)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Errorf("snapshot = %+v, want seeded m1", snap.Messages)
	}

	// Connect walks BOOTING→CONNECTING→SYNCING, the first snapshot READY.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.Current() != status.Ready {
		time.Sleep(10 * time.Millisecond)
	}
	if m.Current() != status.Ready {
		t.Errorf("state = %s, want READY after first snapshot", m.Current())
	}
}

func TestConnectRejectsUnknownToken(t *testing.T) {
	_, ts := testServer(t)
	c, _, _ := testClient(t, ts.URL, "bogus")

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() with unknown token should fail")
	}
}

func TestAppendAssignsServerIdentity(t *testing.T) {
	srv, ts := testServer(t)
	srv.RegisterToken("tok", "alice")

	c, b, _ := testClient(t, ts.URL, "tok")
	ch, unsub := b.Subscribe("remote.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, ch) // initial empty snapshot

	assigned, err := c.Append(context.Background(), "c1", chat.Message{
		SenderLabel: "alice", Kind: chat.KindText, Body: "hello",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if assigned.ID == "" {
		t.Error("server did not assign an id")
	}
	if !assigned.CreatedAt.Assigned() {
		t.Error("server did not assign createdAt")
	}
	if assigned.Body != "hello" {
		t.Errorf("body = %q, want hello", assigned.Body)
	}

	// The append also triggers a broadcast snapshot containing the message.
	snap := waitSnapshot(t, ch)
	if len(snap.Messages) != 1 || snap.Messages[0].ID != assigned.ID {
		t.Errorf("broadcast snapshot = %+v, want the appended message", snap.Messages)
	}
}

func TestServerSideAppendReachesSubscriber(t *testing.T) {
	srv, ts := testServer(t)
	srv.RegisterToken("tok", "alice")

	c, b, _ := testClient(t, ts.URL, "tok")
	ch, unsub := b.Subscribe("remote.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, ch)

	// Another device appends.
	appended := srv.AppendDirect(chat.Message{SenderLabel: "bob", Kind: chat.KindText, Body: "from elsewhere"})

	snap := waitSnapshot(t, ch)
	if len(snap.Messages) != 1 || snap.Messages[0].ID != appended.ID {
		t.Errorf("snapshot = %+v, want the other device's message", snap.Messages)
	}
}

// silentServer accepts the websocket, authenticates, then ignores all
// commands, so appends never get acked.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		payload, _ := json.Marshal(remote.AuthenticatedPayload{UserID: "u1", SenderLabel: "alice"})
		env, _ := json.Marshal(remote.Envelope{Type: remote.EventAuthenticated, Payload: payload})
		if err := conn.Write(r.Context(), websocket.MessageText, env); err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAppendTimesOutWithoutAck(t *testing.T) {
	ts := silentServer(t)

	b := bus.New()
	m := status.NewMachine(b)
	logger, _ := zap.NewDevelopment()
	c := remote.NewClient(remote.Config{
		BaseURL:       ts.URL,
		Token:         "tok",
		AppendTimeout: 200 * time.Millisecond,
	}, b, m, logger)
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := c.Append(context.Background(), "c1", chat.Message{SenderLabel: "alice", Kind: chat.KindText, Body: "x"})
	var terr *chat.TransientError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want TransientError on ack timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s, want ~200ms", elapsed)
	}
}

func TestAppendWhileDisconnected(t *testing.T) {
	_, ts := testServer(t)
	c, _, _ := testClient(t, ts.URL, "tok")

	_, err := c.Append(context.Background(), "c1", chat.Message{SenderLabel: "a", Kind: chat.KindText, Body: "x"})
	var terr *chat.TransientError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want TransientError when not connected", err)
	}
}

// TestAppendSameClientIDIsIdempotent covers the retry path: an entry whose
// ack was lost gets re-sent with the same client id after a crash or
// /retry, and the server must answer with the originally assigned message
// instead of storing a duplicate.
func TestAppendSameClientIDIsIdempotent(t *testing.T) {
	srv, ts := testServer(t)
	srv.RegisterToken("tok", "alice")

	c, b, _ := testClient(t, ts.URL, "tok")
	ch, unsub := b.Subscribe("remote.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, ch) // initial empty snapshot

	m := chat.Message{SenderLabel: "alice", Kind: chat.KindText, Body: "once"}
	first, err := c.Append(context.Background(), "c1", m)
	if err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, ch) // broadcast for the first append

	second, err := c.Append(context.Background(), "c1", m)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("retried append got id %s, want the original %s", second.ID, first.ID)
	}

	// A third message under a fresh id proves the log holds one copy of c1.
	if _, err := c.Append(context.Background(), "c2", chat.Message{SenderLabel: "alice", Kind: chat.KindText, Body: "next"}); err != nil {
		t.Fatal(err)
	}
	snap := waitSnapshot(t, ch)
	if len(snap.Messages) != 2 {
		t.Fatalf("snapshot has %d messages, want 2 (no duplicate for c1)", len(snap.Messages))
	}
	if snap.Messages[0].ID != first.ID {
		t.Errorf("snapshot[0].ID = %s, want %s", snap.Messages[0].ID, first.ID)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, ts := testServer(t)
	srv.RegisterToken("tok", "alice")
	c, _, _ := testClient(t, ts.URL, "tok")

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
