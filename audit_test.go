package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

type recordingSink struct {
	events chan AuditEvent
	block  chan struct{}
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	if s.block != nil {
		<-s.block
	}
	s.events <- event
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{events: make(chan AuditEvent, 16)}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for _, typ := range []string{AuditLogin, AuditLogout, AuditRegister} {
		d.Emit(context.Background(), AuditEvent{EventType: typ})
	}
	d.Close()

	for _, want := range []string{AuditLogin, AuditLogout, AuditRegister} {
		select {
		case got := <-sink.events:
			if got.EventType != want {
				t.Fatalf("event = %q, want %q", got.EventType, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %q never delivered", want)
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{events: make(chan AuditEvent, 16), block: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// The worker is stuck in the sink; the buffer holds one more. Everything
	// past that is dropped without blocking this goroutine.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditLogin})
	}
	if d.Dropped() == 0 {
		t.Fatal("overflow must be counted, not absorbed")
	}

	close(sink.block)
	d.Close()
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &recordingSink{events: make(chan AuditEvent, 16)}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditLogin})
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case <-sink.events:
		case <-time.After(time.Second):
			t.Fatalf("event %d lost on close", i)
		}
	}

	// Emit after Close is a silent no-op.
	d.Emit(context.Background(), AuditEvent{EventType: AuditLogout})
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled config must produce a nil dispatcher")
	}
	// Every method is safe on nil.
	d.Emit(context.Background(), AuditEvent{EventType: AuditLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher drops nothing")
	}
}

func TestEngineEmitsLoginAudit(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, nil)
	env.createAccount("alice@example.com", "correct-horse-1", true)

	// Rebuild with the sink attached; the default env carries none.
	engine, err := New().
		WithConfig(env.engine.config).
		WithRedis(env.client).
		WithAccountProvider(env.provider).
		WithAuditSink(sink).
		WithClock(env.clock).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-sink.Events():
		if event.EventType != AuditLogin || !event.Success || event.AccountID == "" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("login audit never arrived")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogin, AccountID: "acct-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogout, AccountID: "acct-1", Success: true})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var event AuditEvent
	if err := json.Unmarshal(lines[0], &event); err != nil {
		t.Fatal(err)
	}
	if event.EventType != AuditLogin || event.AccountID != "acct-1" {
		t.Fatalf("decoded %+v", event)
	}
}
