package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-dev/collab/pkg/document"
	"github.com/vango-dev/collab/pkg/parse"
	"github.com/vango-dev/collab/pkg/publish"
	"github.com/vango-dev/collab/pkg/route"
	"github.com/vango-dev/collab/pkg/session"
)

// fakeTransport records every frame the handler sends.
type fakeTransport struct {
	id string

	mu     sync.Mutex
	frames []Envelope
	closed bool
	full   bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.full {
		f.closed = true
		return ErrSendQueueFull
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// events returns the recorded event names in order.
func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, env := range f.frames {
		out[i] = env.Event
	}
	return out
}

// find returns the data of every frame with event name.
func (f *fakeTransport) find(event string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, env := range f.frames {
		if env.Event == event {
			out = append(out, env.Data)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// lastError decodes the most recent error event.
func (f *fakeTransport) lastError(t *testing.T) ErrorMessage {
	t.Helper()
	errs := f.find(EventError)
	if len(errs) == 0 {
		t.Fatalf("no error event; got %v", f.events())
	}
	var msg ErrorMessage
	if err := json.Unmarshal(errs[len(errs)-1], &msg); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return msg
}

// testEnv wires handlers to one registry with a static parser.
type testEnv struct {
	registry  *route.Registry
	metrics   *Metrics
	prom      *prometheus.Registry
	publisher publish.Publisher
	config    *SessionConfig

	mu    sync.Mutex
	pages map[string]string
	loads map[string]int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		prom:   prometheus.NewRegistry(),
		config: DefaultSessionConfig(),
		pages:  map[string]string{"Foo": "<p>foo</p>"},
		loads:  make(map[string]int),
	}
	env.metrics = NewMetrics(env.prom, "test")
	env.publisher = publish.NewLogPublisher(nil)
	env.registry = route.NewRegistry(func(ctx context.Context, title string) (*document.Document, error) {
		env.mu.Lock()
		html, ok := env.pages[title]
		env.loads[title]++
		env.mu.Unlock()
		if !ok {
			return nil, parse.ErrNotFound
		}
		return document.New(title, html), nil
	}, route.WithHooks(
		func(string) { env.metrics.RecordRouteCreated() },
		func(string) { env.metrics.RecordRouteRemoved() },
	))
	return env
}

func (e *testEnv) handler(id string) (*Handler, *fakeTransport) {
	tr := newFakeTransport(id)
	return NewHandler(tr, e.registry, e.publisher, e.config, e.metrics, nil), tr
}

func (e *testEnv) join(t *testing.T, h *Handler, user, title string) {
	t.Helper()
	if err := h.ClientConnection(context.Background(), JoinData{User: user, Title: title}); err != nil {
		t.Fatalf("ClientConnection(%s, %s) error: %v", user, title, err)
	}
}

func decodeTransfer(t *testing.T, tr *fakeTransport) DocumentTransfer {
	t.Helper()
	frames := tr.find(EventDocumentTransfer)
	if len(frames) != 1 {
		t.Fatalf("document_transfer frames = %d, want 1; events %v", len(frames), tr.events())
	}
	var dt DocumentTransfer
	if err := json.Unmarshal(frames[0], &dt); err != nil {
		t.Fatalf("decode document_transfer: %v", err)
	}
	return dt
}

func insertAt(pos int, text string) json.RawMessage {
	var ops []document.Operation
	if pos > 0 {
		ops = append(ops, document.Retain(pos))
	}
	ops = append(ops, document.Insert(text))
	raw, _ := json.Marshal(document.Transaction{Operations: ops})
	return raw
}

func TestHandler_FooScenario(t *testing.T) {
	env := newTestEnv(t)
	a, trA := env.handler("a")
	b, trB := env.handler("b")

	env.join(t, a, "A", "Foo")
	dtA := decodeTransfer(t, trA)
	if !dtA.AllowPublish {
		t.Error("A allowPublish = false, want true")
	}
	if len(dtA.Users) != 0 {
		t.Errorf("A users = %v, want []", dtA.Users)
	}
	if dtA.HTML != "<p>foo</p>" {
		t.Errorf("A html = %q", dtA.HTML)
	}

	env.join(t, b, "B", "Foo")
	dtB := decodeTransfer(t, trB)
	if dtB.AllowPublish {
		t.Error("B allowPublish = true, want false")
	}
	if len(dtB.Users) != 1 || dtB.Users[0] != "A" {
		t.Errorf("B users = %v, want [A]", dtB.Users)
	}

	connects := trA.find(EventClientConnect)
	if len(connects) != 1 || string(connects[0]) != `"B"` {
		t.Errorf("A client_connect = %s, want \"B\"", connects)
	}
	if len(trB.find(EventClientConnect)) != 0 {
		t.Error("B received its own client_connect")
	}

	rt, _ := env.registry.Lookup("Foo")
	if !rt.Document().HasPublisher() {
		t.Error("document hasPublisher = false with A publishing")
	}
	if env.loads["Foo"] != 1 {
		t.Errorf("loads = %d, want 1", env.loads["Foo"])
	}
}

func TestHandler_TransactionNotEchoed(t *testing.T) {
	env := newTestEnv(t)
	a, trA := env.handler("a")
	b, trB := env.handler("b")
	c, trC := env.handler("c")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")
	env.join(t, c, "C", "Foo")

	tx := insertAt(0, "x")
	if err := a.NewTransaction(context.Background(), tx); err != nil {
		t.Fatalf("NewTransaction() error: %v", err)
	}

	if n := len(trA.find(EventTransaction)); n != 0 {
		t.Errorf("sender received %d new_transaction frames, want 0", n)
	}
	for name, tr := range map[string]*fakeTransport{"B": trB, "C": trC} {
		got := tr.find(EventTransaction)
		if len(got) != 1 {
			t.Fatalf("%s new_transaction frames = %d, want 1", name, len(got))
		}
		if string(got[0]) != string(tx) {
			t.Errorf("%s payload = %s, want %s", name, got[0], tx)
		}
	}

	rt, _ := env.registry.Lookup("Foo")
	if got := rt.Document().HTML(); got != "x<p>foo</p>" {
		t.Errorf("HTML() = %q", got)
	}
	if v := testutil.ToFloat64(env.metrics.transactions.WithLabelValues("applied")); v != 1 {
		t.Errorf("applied transactions = %v, want 1", v)
	}
}

func TestHandler_InvalidTransaction(t *testing.T) {
	env := newTestEnv(t)
	a, trA := env.handler("a")
	b, trB := env.handler("b")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")

	cases := []json.RawMessage{
		json.RawMessage(`{"operations":[{"type":"splice"}]}`),
		json.RawMessage(`{"operations":[{"type":"retain","length":999},{"type":"insert","text":"x"}]}`),
		json.RawMessage(`not json`),
	}
	for _, raw := range cases {
		trA.reset()
		err := a.NewTransaction(context.Background(), raw)
		if err == nil {
			t.Errorf("NewTransaction(%s) error = nil", raw)
			continue
		}
		if msg := trA.lastError(t); msg.Code != CodeInvalidTransaction {
			t.Errorf("code = %q, want %q", msg.Code, CodeInvalidTransaction)
		}
	}

	if n := len(trB.find(EventTransaction)); n != 0 {
		t.Errorf("B received %d transactions after failures, want 0", n)
	}
	rt, _ := env.registry.Lookup("Foo")
	if rt.Document().HTML() != "<p>foo</p>" || rt.Document().Revision() != 0 {
		t.Errorf("document changed: %q rev %d", rt.Document().HTML(), rt.Document().Revision())
	}
	if v := testutil.ToFloat64(env.metrics.transactions.WithLabelValues("rejected")); v != 3 {
		t.Errorf("rejected transactions = %v, want 3", v)
	}
}

func TestHandler_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")
	ctx := context.Background()

	if err := h.NewTransaction(ctx, insertAt(0, "x")); !errors.Is(err, ErrNoSession) {
		t.Errorf("NewTransaction() error = %v, want ErrNoSession", err)
	}
	if err := h.AllowPublish(PublishData{AllowPublish: true}); !errors.Is(err, ErrNoSession) {
		t.Errorf("AllowPublish() error = %v, want ErrNoSession", err)
	}
	if err := h.SaveDocument(ctx, SaveData{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("SaveDocument() error = %v, want ErrNoSession", err)
	}
	for _, data := range tr.find(EventError) {
		var msg ErrorMessage
		json.Unmarshal(data, &msg)
		if msg.Code != CodeInvalidState {
			t.Errorf("code = %q, want %q", msg.Code, CodeInvalidState)
		}
	}
	if n := len(tr.find(EventError)); n != 3 {
		t.Errorf("error frames = %d, want 3", n)
	}
}

func TestHandler_AlreadyJoined(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")
	env.join(t, h, "A", "Foo")

	err := h.ClientConnection(context.Background(), JoinData{User: "A", Title: "Foo"})
	if !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("second join error = %v, want ErrAlreadyJoined", err)
	}
	if msg := tr.lastError(t); msg.Code != CodeAlreadyJoined {
		t.Errorf("code = %q, want %q", msg.Code, CodeAlreadyJoined)
	}
	rt, _ := env.registry.Lookup("Foo")
	if rt.Len() != 1 {
		t.Errorf("participants = %d, want 1", rt.Len())
	}
}

func TestHandler_JoinFailure(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")

	err := h.ClientConnection(context.Background(), JoinData{User: "A", Title: "Missing"})
	if !errors.Is(err, parse.ErrNotFound) {
		t.Fatalf("join error = %v, want parse.ErrNotFound", err)
	}
	failures := tr.find(EventJoinFailed)
	if len(failures) != 1 {
		t.Fatalf("join_failed frames = %d, want 1", len(failures))
	}
	var f Failure
	json.Unmarshal(failures[0], &f)
	if f.Title != "Missing" || f.Reason == "" {
		t.Errorf("join_failed = %+v", f)
	}
	if h.Session() != nil {
		t.Error("session created after failed join")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d after failed load, want 0", env.registry.Len())
	}

	// The handler returns to disconnected and may retry.
	env.join(t, h, "A", "Foo")
	if h.Session() == nil {
		t.Error("retry did not create a session")
	}
	if v := testutil.ToFloat64(env.metrics.joins.WithLabelValues(joinFailed)); v != 1 {
		t.Errorf("failed joins = %v, want 1", v)
	}
}

func TestHandler_JoinTimeout(t *testing.T) {
	env := newTestEnv(t)
	block := make(chan struct{})
	defer close(block)
	env.registry = route.NewRegistry(func(ctx context.Context, title string) (*document.Document, error) {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return document.New(title, ""), nil
	})
	env.config.JoinTimeout = 20 * time.Millisecond

	h, tr := env.handler("a")
	err := h.ClientConnection(context.Background(), JoinData{User: "A", Title: "Slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("join error = %v, want deadline exceeded", err)
	}
	if len(tr.find(EventJoinFailed)) != 1 {
		t.Errorf("events = %v, want join_failed", tr.events())
	}
	if v := testutil.ToFloat64(env.metrics.joins.WithLabelValues(joinTimeout)); v != 1 {
		t.Errorf("timed out joins = %v, want 1", v)
	}
}

func TestHandler_InvalidJoinData(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")

	for _, data := range []JoinData{{User: "", Title: "Foo"}, {User: "A", Title: ""}} {
		if err := h.ClientConnection(context.Background(), data); !errors.Is(err, ErrInvalidJoin) {
			t.Errorf("ClientConnection(%+v) error = %v, want ErrInvalidJoin", data, err)
		}
	}
	if n := len(tr.find(EventJoinFailed)); n != 2 {
		t.Errorf("join_failed frames = %d, want 2", n)
	}
	if env.registry.Len() != 0 {
		t.Error("route created for invalid join")
	}
}

func TestHandler_Authenticate(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")

	if err := h.Authenticate(AuthData{UserName: "A", DocTitle: "Foo"}); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	frames := tr.find(EventClientAuth)
	if len(frames) != 1 {
		t.Fatalf("client_auth frames = %d, want 1", len(frames))
	}
	var auth ClientAuth
	json.Unmarshal(frames[0], &auth)
	if want := session.GenerateID("A", "Foo", 0); auth.SessionID != want {
		t.Errorf("sessionID = %q, want %q", auth.SessionID, want)
	}
	if h.Session() != nil || env.registry.Len() != 0 {
		t.Error("Authenticate created a session or route")
	}

	// The route count seeds the identifier.
	other, _ := env.handler("b")
	env.join(t, other, "B", "Foo")
	tr.reset()
	h.Authenticate(AuthData{UserName: "A", DocTitle: "Foo"})
	json.Unmarshal(tr.find(EventClientAuth)[0], &auth)
	if auth.SessionID == session.GenerateID("A", "Foo", 0) {
		t.Error("sessionID unchanged after route count changed")
	}
}

func TestHandler_PublisherDisconnect(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.handler("a")
	b, trB := env.handler("b")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")

	rt, _ := env.registry.Lookup("Foo")
	doc := rt.Document()

	a.ClientDisconnection()
	a.ClientDisconnection() // idempotent

	if doc.HasPublisher() {
		t.Error("hasPublisher = true after publisher left")
	}
	disconnects := trB.find(EventClientDisconnect)
	if len(disconnects) != 1 || string(disconnects[0]) != `"A"` {
		t.Errorf("B client_disconnect = %s, want one \"A\"", disconnects)
	}
	if b.IsPublisher() {
		t.Error("B gained publish rights without claiming")
	}

	if err := b.AllowPublish(PublishData{AllowPublish: true}); err != nil {
		t.Fatalf("AllowPublish(true) error: %v", err)
	}
	if !doc.HasPublisher() || !b.IsPublisher() {
		t.Error("claim did not restore hasPublisher")
	}
	var pr PublishRights
	json.Unmarshal(trB.find(EventPublishRights)[0], &pr)
	if !pr.AllowPublish {
		t.Error("publish_rights allowPublish = false after claim")
	}

	if err := b.AllowPublish(PublishData{AllowPublish: false}); err != nil {
		t.Fatalf("AllowPublish(false) error: %v", err)
	}
	if doc.HasPublisher() {
		t.Error("hasPublisher = true after release")
	}
}

func TestHandler_PublisherTaken(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.handler("a")
	b, trB := env.handler("b")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")

	err := b.AllowPublish(PublishData{AllowPublish: true})
	if !errors.Is(err, route.ErrPublisherTaken) {
		t.Fatalf("AllowPublish() error = %v, want ErrPublisherTaken", err)
	}
	if msg := trB.lastError(t); msg.Code != CodePublisherTaken {
		t.Errorf("code = %q, want %q", msg.Code, CodePublisherTaken)
	}
	if b.IsPublisher() {
		t.Error("B became publisher while A holds rights")
	}

	// Re-claiming by the holder succeeds.
	if err := a.AllowPublish(PublishData{AllowPublish: true}); err != nil {
		t.Errorf("holder re-claim error: %v", err)
	}
}

func TestHandler_DisconnectBeforeJoin(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")
	h.ClientDisconnection()

	if len(tr.events()) != 0 {
		t.Errorf("events = %v, want none", tr.events())
	}
	if err := h.ClientConnection(context.Background(), JoinData{User: "A", Title: "Foo"}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("join after close error = %v, want ErrConnectionClosed", err)
	}
}

func TestHandler_LastLeaveRemovesRoute(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.handler("a")
	env.join(t, a, "A", "Foo")
	if v := testutil.ToFloat64(env.metrics.activeRoutes); v != 1 {
		t.Errorf("active routes = %v, want 1", v)
	}

	a.ClientDisconnection()
	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", env.registry.Len())
	}
	if v := testutil.ToFloat64(env.metrics.activeRoutes); v != 0 {
		t.Errorf("active routes = %v, want 0", v)
	}

	// A fresh route makes the next joiner publisher again.
	b, trB := env.handler("b")
	env.join(t, b, "B", "Foo")
	if dt := decodeTransfer(t, trB); !dt.AllowPublish {
		t.Error("first joiner of recreated route lacks publish rights")
	}
	if env.loads["Foo"] != 2 {
		t.Errorf("loads = %d, want 2", env.loads["Foo"])
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	pages []publish.Page
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, page publish.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pages = append(p.pages, page)
	return nil
}

func TestHandler_SaveDocument(t *testing.T) {
	env := newTestEnv(t)
	pub := &recordingPublisher{}
	env.publisher = pub

	a, trA := env.handler("a")
	b, trB := env.handler("b")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")

	if err := b.SaveDocument(context.Background(), SaveData{}); !errors.Is(err, ErrNotPublisher) {
		t.Errorf("non-publisher save error = %v, want ErrNotPublisher", err)
	}
	if msg := trB.lastError(t); msg.Code != CodeNotPublisher {
		t.Errorf("code = %q, want %q", msg.Code, CodeNotPublisher)
	}

	err := a.SaveDocument(context.Background(), SaveData{
		Transaction: insertAt(0, "!"),
		Summary:     "final",
	})
	if err != nil {
		t.Fatalf("SaveDocument() error: %v", err)
	}

	if len(pub.pages) != 1 {
		t.Fatalf("published pages = %d, want 1", len(pub.pages))
	}
	page := pub.pages[0]
	if page.Title != "Foo" || page.HTML != "!<p>foo</p>" || page.Revision != 1 || page.UserID != "A" || page.Summary != "final" {
		t.Errorf("page = %+v", page)
	}

	// The final transaction reaches B; the saved notice reaches both.
	if n := len(trB.find(EventTransaction)); n != 1 {
		t.Errorf("B transactions = %d, want 1", n)
	}
	for name, tr := range map[string]*fakeTransport{"A": trA, "B": trB} {
		saved := tr.find(EventDocumentSaved)
		if len(saved) != 1 {
			t.Errorf("%s document_saved frames = %d, want 1", name, len(saved))
			continue
		}
		var ds DocumentSaved
		json.Unmarshal(saved[0], &ds)
		if ds.Title != "Foo" || ds.Revision != 1 {
			t.Errorf("%s document_saved = %+v", name, ds)
		}
	}
	if v := testutil.ToFloat64(env.metrics.saves.WithLabelValues("ok")); v != 1 {
		t.Errorf("ok saves = %v, want 1", v)
	}
}

func TestHandler_SaveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.publisher = &recordingPublisher{err: errors.New("bucket unavailable")}

	a, trA := env.handler("a")
	b, trB := env.handler("b")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")

	if err := a.SaveDocument(context.Background(), SaveData{}); err == nil {
		t.Fatal("SaveDocument() error = nil")
	}
	failed := trA.find(EventSaveFailed)
	if len(failed) != 1 {
		t.Fatalf("save_failed frames = %d, want 1", len(failed))
	}
	var f Failure
	json.Unmarshal(failed[0], &f)
	if f.Title != "Foo" || !strings.Contains(f.Reason, "bucket unavailable") {
		t.Errorf("save_failed = %+v", f)
	}
	if len(trB.find(EventSaveFailed)) != 0 || len(trB.find(EventDocumentSaved)) != 0 {
		t.Errorf("B events = %v, want no save notices", trB.events())
	}
	if v := testutil.ToFloat64(env.metrics.saves.WithLabelValues("failed")); v != 1 {
		t.Errorf("failed saves = %v, want 1", v)
	}
}

func TestHandler_HandleMessage(t *testing.T) {
	env := newTestEnv(t)
	h, tr := env.handler("a")
	ctx := context.Background()

	h.HandleMessage(ctx, []byte(`{"event":"clientConnection","data":{"user":"A","title":"Foo"}}`))
	if h.Session() == nil {
		t.Fatalf("join via envelope failed: %v", tr.events())
	}

	h.HandleMessage(ctx, []byte(`{"event":"newTransaction","data":{"operations":[{"type":"insert","text":"z"}]}}`))
	rt, _ := env.registry.Lookup("Foo")
	if rt.Document().HTML() != "z<p>foo</p>" {
		t.Errorf("HTML() = %q", rt.Document().HTML())
	}

	tests := []struct {
		msg  string
		code string
	}{
		{`{"event":"bogus","data":{}}`, CodeUnknownEvent},
		{`not json`, CodeInvalidMessage},
		{`{"data":{}}`, CodeInvalidMessage},
		{`{"event":"allowPublish"}`, CodeInvalidMessage},
	}
	for _, tt := range tests {
		tr.reset()
		h.HandleMessage(ctx, []byte(tt.msg))
		if msg := tr.lastError(t); msg.Code != tt.code {
			t.Errorf("HandleMessage(%s) code = %q, want %q", tt.msg, msg.Code, tt.code)
		}
	}
}

func TestHandler_SlowPeerDoesNotBlockBroadcast(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.handler("a")
	b, trB := env.handler("b")
	c, trC := env.handler("c")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")
	env.join(t, c, "C", "Foo")

	trB.mu.Lock()
	trB.full = true
	trB.mu.Unlock()

	if err := a.NewTransaction(context.Background(), insertAt(0, "x")); err != nil {
		t.Fatalf("NewTransaction() error: %v", err)
	}
	if n := len(trC.find(EventTransaction)); n != 1 {
		t.Errorf("C transactions = %d, want 1", n)
	}
	trB.mu.Lock()
	closed := trB.closed
	trB.mu.Unlock()
	if !closed {
		t.Error("slow peer transport not closed")
	}
	_ = b
}

func TestHandler_FailedReplyIsLogged(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := newFakeTransport("a")
	tr.full = true
	h := NewHandler(tr, env.registry, env.publisher, env.config, env.metrics, logger)

	err := h.ClientConnection(context.Background(), JoinData{User: "A", Title: "Missing"})
	if !errors.Is(err, parse.ErrNotFound) {
		t.Fatalf("ClientConnection() error = %v, want ErrNotFound", err)
	}
	h.HandleMessage(context.Background(), []byte(`{"event":"clientConnection","data":42}`))

	out := buf.String()
	if n := strings.Count(out, "emit failed"); n != 2 {
		t.Errorf("emit failed logged %d times, want 2:\n%s", n, out)
	}
	if !strings.Contains(out, "event="+EventJoinFailed) || !strings.Contains(out, "conn_id=a") {
		t.Errorf("log missing event or conn_id:\n%s", out)
	}
}

// Concurrent transactions from different participants must be applied in one
// order, and every observer must see that order.
func TestHandler_ConcurrentTransactionsOrdered(t *testing.T) {
	env := newTestEnv(t)
	env.pages["Foo"] = ""

	a, trA := env.handler("a")
	b, trB := env.handler("b")
	c, trC := env.handler("c")
	env.join(t, a, "A", "Foo")
	env.join(t, b, "B", "Foo")
	env.join(t, c, "C", "Foo")

	const n = 50
	var wg sync.WaitGroup
	for _, p := range []struct {
		h    *Handler
		name string
	}{{a, "a"}, {b, "b"}} {
		wg.Add(1)
		go func(h *Handler, name string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				h.NewTransaction(context.Background(), insertAt(0, fmt.Sprintf("%s%d;", name, i)))
			}
		}(p.h, p.name)
	}
	wg.Wait()

	observed := trC.find(EventTransaction)
	if len(observed) != 2*n {
		t.Fatalf("C observed %d transactions, want %d", len(observed), 2*n)
	}

	// Replaying C's observed order must reproduce the document.
	content := ""
	for _, raw := range observed {
		tx, err := document.DecodeTransaction(raw)
		if err != nil {
			t.Fatalf("decode observed transaction: %v", err)
		}
		if content, err = tx.Apply(content); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	rt, _ := env.registry.Lookup("Foo")
	if got := rt.Document().HTML(); got != content {
		t.Errorf("document diverges from observed order:\n got %q\nwant %q", got, content)
	}

	if got := len(trA.find(EventTransaction)); got != n {
		t.Errorf("A observed %d transactions, want %d (only B's)", got, n)
	}
	if got := len(trB.find(EventTransaction)); got != n {
		t.Errorf("B observed %d transactions, want %d (only A's)", got, n)
	}
}

// At most one participant holds publish rights through any mix of joins,
// leaves and claims.
func TestHandler_PublisherUniqueness(t *testing.T) {
	env := newTestEnv(t)
	const workers = 8

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 1)

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			rt, ok := env.registry.Lookup("Foo")
			if !ok {
				continue
			}
			count := 0
			rt.Exclusive(func() error {
				for _, p := range rt.Participants() {
					if p.IsPublisher() {
						count++
					}
				}
				return nil
			})
			if count > 1 {
				select {
				case violations <- fmt.Sprintf("%d publishers", count):
				default:
				}
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h, _ := env.handler(fmt.Sprintf("w%d-%d", w, i))
				if err := h.ClientConnection(context.Background(), JoinData{User: fmt.Sprintf("U%d", w), Title: "Foo"}); err != nil {
					continue
				}
				h.AllowPublish(PublishData{AllowPublish: true})
				if i%3 == 0 {
					h.AllowPublish(PublishData{AllowPublish: false})
				}
				h.ClientDisconnection()
			}
		}(w)
	}
	wg.Wait()
	close(stop)

	select {
	case v := <-violations:
		t.Fatalf("publisher uniqueness violated: %s", v)
	default:
	}
}
