package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/collab/pkg/document"
	"github.com/vango-dev/collab/pkg/publish"
	"github.com/vango-dev/collab/pkg/route"
	"github.com/vango-dev/collab/pkg/session"
)

// Transport delivers encoded frames to one client.
type Transport interface {
	// ID identifies the connection in logs and errors.
	ID() string

	// Send queues msg without blocking.
	Send(msg []byte) error

	// Close ends the connection.
	Close() error
}

// handlerState is the connection's position in the join lifecycle.
type handlerState int

const (
	stateDisconnected handlerState = iota
	stateJoining
	stateJoined
	stateClosed
)

// String returns the state name.
func (s handlerState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateJoining:
		return "joining"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler mediates between one connection and the shared routes.
//
// Handler methods other than Emit, UserID and IsPublisher must be called from
// a single goroutine, in arrival order. Emit, UserID and IsPublisher are
// called by other participants' broadcasts and may run concurrently.
type Handler struct {
	transport Transport
	registry  *route.Registry
	publisher publish.Publisher
	config    *SessionConfig
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	state       handlerState
	route       *route.Route
	unsubscribe func()

	sess atomic.Pointer[session.Session]
}

// NewHandler creates a Handler for one connection.
// A nil publisher uses a publish.LogPublisher; a nil config uses DefaultSessionConfig().
func NewHandler(t Transport, registry *route.Registry, publisher publish.Publisher, config *SessionConfig, metrics *Metrics, logger *slog.Logger) *Handler {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = publish.NewLogPublisher(logger)
	}
	return &Handler{
		transport: t,
		registry:  registry,
		publisher: publisher,
		config:    config,
		metrics:   metrics,
		tracer:    tracer(),
		logger:    logger.With("conn_id", t.ID()),
	}
}

// UserID returns the joined user's ID, or "" before a join.
func (h *Handler) UserID() string {
	if s := h.sess.Load(); s != nil {
		return s.UserID()
	}
	return ""
}

// IsPublisher reports whether the joined session holds publish rights.
func (h *Handler) IsPublisher() bool {
	if s := h.sess.Load(); s != nil {
		return s.IsPublisher()
	}
	return false
}

// Session returns the joined session, or nil.
func (h *Handler) Session() *session.Session {
	return h.sess.Load()
}

// Emit encodes event and queues it on the transport.
func (h *Handler) Emit(event string, payload any) error {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		return NewSessionError(h.transport.ID(), "encode "+event, err)
	}
	return h.transport.Send(msg)
}

// emit sends a reply whose delivery failure the caller cannot act on.
func (h *Handler) emit(event string, payload any) {
	if err := h.Emit(event, payload); err != nil {
		h.logger.Debug("emit failed", "event", event, "error", err)
	}
}

func (h *Handler) emitError(code, message string) {
	h.emit(EventError, ErrorMessage{Code: code, Message: message})
}

// HandleMessage decodes one inbound envelope and dispatches it.
func (h *Handler) HandleMessage(ctx context.Context, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
		h.logger.Warn("malformed envelope", "bytes", len(msg))
		h.emitError(CodeInvalidMessage, "malformed envelope")
		return
	}

	var err error
	switch env.Event {
	case EventAuthenticate:
		var data AuthData
		if err = decodeData(env.Data, &data); err != nil {
			h.emitError(CodeInvalidMessage, err.Error())
			break
		}
		err = h.Authenticate(data)

	case EventClientConnection:
		var data JoinData
		if err = decodeData(env.Data, &data); err != nil {
			h.emit(EventJoinFailed, Failure{Reason: "malformed join data"})
			break
		}
		err = h.ClientConnection(ctx, data)

	case EventNewTransaction:
		err = h.NewTransaction(ctx, env.Data)

	case EventAllowPublish:
		var data PublishData
		if err = decodeData(env.Data, &data); err != nil {
			h.emitError(CodeInvalidMessage, err.Error())
			break
		}
		err = h.AllowPublish(data)

	case EventSaveDocument:
		var data SaveData
		if err = decodeData(env.Data, &data); err != nil {
			h.emitError(CodeInvalidMessage, err.Error())
			break
		}
		err = h.SaveDocument(ctx, data)

	default:
		h.emitError(CodeUnknownEvent, env.Event)
		err = NewProtocolError(h.transport.ID(), env.Event, ErrUnknownEvent.Error())
	}

	if err != nil {
		h.logger.Debug("event failed", "event", env.Event, "error", err)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}

// Authenticate answers with a session ID derived from the user, the title and
// the current route count. It creates no session and gates nothing.
func (h *Handler) Authenticate(data AuthData) error {
	if h.state == stateClosed {
		return ErrConnectionClosed
	}
	id := session.GenerateID(data.UserName, data.DocTitle, h.registry.Len())
	return h.Emit(EventClientAuth, ClientAuth{SessionID: id})
}

// ClientConnection joins the route for data.Title, creating it if needed.
//
// On success the joiner receives document_transfer and every other
// participant receives client_connect. On failure the joiner receives
// join_failed and the handler can try again.
func (h *Handler) ClientConnection(ctx context.Context, data JoinData) error {
	switch h.state {
	case stateJoining, stateJoined:
		h.emitError(CodeAlreadyJoined, "connection already joined a document")
		return NewSessionError(h.transport.ID(), "join", ErrAlreadyJoined)
	case stateClosed:
		return ErrConnectionClosed
	}

	if data.User == "" || data.Title == "" {
		h.metrics.RecordJoin(joinInvalid, 0)
		h.emit(EventJoinFailed, Failure{Title: data.Title, Reason: ErrInvalidJoin.Error()})
		return NewSessionError(h.transport.ID(), "join", ErrInvalidJoin)
	}

	h.state = stateJoining
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, h.config.JoinTimeout)
	defer cancel()
	ctx, span := h.tracer.Start(ctx, "collab.join", trace.WithAttributes(
		attribute.String("collab.title", data.Title),
		attribute.String("collab.conn_id", h.transport.ID()),
	))

	rt, err := h.registry.Join(ctx, data.Title, h, func(rt *route.Route, st route.JoinState) {
		s := session.New(rt.Document(), data.User)
		h.unsubscribe = s.OnAllowPublish(func(bool) {
			rt.RecomputePublisher()
		})
		h.sess.Store(s)
		s.AllowPublish(st.First)

		h.emit(EventDocumentTransfer, DocumentTransfer{
			HTML:         st.HTML,
			Users:        st.Users,
			AllowPublish: st.First,
			Revision:     st.Revision,
		})
		h.metrics.RecordBroadcast(rt.BroadcastExcept(EventClientConnect, data.User, h))
	})
	endSpan(span, err)

	if err != nil {
		h.state = stateDisconnected
		outcome := joinFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = joinTimeout
		}
		h.metrics.RecordJoin(outcome, time.Since(start))
		h.logger.Warn("join failed", "title", data.Title, "user_id", data.User, "error", err)
		h.emit(EventJoinFailed, Failure{Title: data.Title, Reason: err.Error()})
		return NewSessionError(h.transport.ID(), "join", err)
	}

	h.route = rt
	h.state = stateJoined
	h.logger = h.logger.With("user_id", data.User, "title", data.Title)
	h.metrics.RecordJoin(joinOK, time.Since(start))
	h.logger.Info("client joined", "participants", rt.Len(), "publisher", h.IsPublisher())
	return nil
}

// ClientDisconnection runs the leave protocol. The handler cannot be used
// afterwards. Calling it again, or before any join, is a no-op.
func (h *Handler) ClientDisconnection() {
	prev := h.state
	h.state = stateClosed
	if prev != stateJoined {
		return
	}

	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}

	userID := h.UserID()
	remaining := h.registry.Leave(h.route, h, func(rt *route.Route) {
		h.metrics.RecordBroadcast(rt.BroadcastAll(EventClientDisconnect, userID))
	})
	h.metrics.RecordLeave()
	h.logger.Info("client left", "remaining", remaining)
}

// requireSession returns the joined session or reports invalid_state to the client.
func (h *Handler) requireSession(op string) (*session.Session, error) {
	s := h.sess.Load()
	if h.state != stateJoined || s == nil {
		h.emitError(CodeInvalidState, op+" requires a joined document")
		return nil, NewSessionError(h.transport.ID(), op, ErrNoSession)
	}
	return s, nil
}

// NewTransaction applies raw to the shared document and forwards it,
// unmodified, to every other participant. The sender gets nothing back on
// success and an invalid_transaction error on failure.
func (h *Handler) NewTransaction(ctx context.Context, raw json.RawMessage) error {
	s, err := h.requireSession("newTransaction")
	if err != nil {
		return err
	}

	err = h.route.Exclusive(func() error {
		return h.applyLocked(ctx, s, raw)
	})
	if err != nil {
		h.emitError(CodeInvalidTransaction, err.Error())
		return NewSessionError(h.transport.ID(), "newTransaction", err)
	}
	return nil
}

// applyLocked decodes, applies and broadcasts raw. The route's ordering lock must be held.
func (h *Handler) applyLocked(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	_, span := h.tracer.Start(ctx, "collab.apply")
	err := h.applyAndBroadcast(s, raw)
	endSpan(span, err)
	return err
}

func (h *Handler) applyAndBroadcast(s *session.Session, raw json.RawMessage) error {
	tx, err := document.DecodeTransaction(raw)
	if err != nil {
		h.metrics.RecordTransaction(false)
		return err
	}
	if err := s.Document().ApplyTransaction(s.UserID(), tx); err != nil {
		h.metrics.RecordTransaction(false)
		return err
	}
	h.metrics.RecordTransaction(true)
	h.metrics.RecordBroadcast(h.route.BroadcastExcept(EventTransaction, raw, h))
	h.logger.Debug("transaction applied", "revision", s.Document().Revision(), "ops", len(tx.Operations))
	return nil
}

// AllowPublish claims or releases publish rights and replies with publish_rights.
func (h *Handler) AllowPublish(data PublishData) error {
	s, err := h.requireSession("allowPublish")
	if err != nil {
		return err
	}

	if data.AllowPublish {
		err = h.route.ClaimPublisher(h, func() {
			s.AllowPublish(true)
		})
		if errors.Is(err, route.ErrPublisherTaken) {
			h.emitError(CodePublisherTaken, "another participant holds publish rights")
			return NewSessionError(h.transport.ID(), "allowPublish", err)
		}
	} else {
		h.route.Exclusive(func() error {
			s.AllowPublish(false)
			return nil
		})
	}

	h.logger.Info("publish rights changed", "publisher", s.IsPublisher())
	return h.Emit(EventPublishRights, PublishRights{AllowPublish: s.IsPublisher()})
}

// SaveDocument applies the optional final transaction and hands the document
// to the Publisher. Only the publisher may save.
func (h *Handler) SaveDocument(ctx context.Context, data SaveData) error {
	s, err := h.requireSession("saveDocument")
	if err != nil {
		return err
	}
	if !s.IsPublisher() {
		h.emitError(CodeNotPublisher, "saving requires publish rights")
		return NewSessionError(h.transport.ID(), "saveDocument", ErrNotPublisher)
	}

	var page publish.Page
	err = h.route.Exclusive(func() error {
		if hasTransaction(data.Transaction) {
			if err := h.applyLocked(ctx, s, data.Transaction); err != nil {
				return err
			}
		}
		html, rev := s.Document().Snapshot()
		page = publish.Page{
			Title:    h.route.Title(),
			HTML:     html,
			Revision: rev,
			UserID:   s.UserID(),
			Summary:  data.Summary,
		}
		return nil
	})
	if err != nil {
		h.emitError(CodeInvalidTransaction, err.Error())
		return NewSessionError(h.transport.ID(), "saveDocument", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.SaveTimeout)
	defer cancel()
	ctx, span := h.tracer.Start(ctx, "collab.save", trace.WithAttributes(
		attribute.String("collab.title", page.Title),
		attribute.Int64("collab.revision", int64(page.Revision)),
	))
	err = h.publisher.Publish(ctx, page)
	endSpan(span, err)

	if err != nil {
		h.metrics.RecordSave(false)
		h.logger.Error("save failed", "revision", page.Revision, "error", err)
		h.emit(EventSaveFailed, Failure{Title: page.Title, Reason: err.Error()})
		return NewSessionError(h.transport.ID(), "saveDocument", err)
	}

	h.metrics.RecordSave(true)
	h.logger.Info("document saved", "revision", page.Revision)
	h.route.Exclusive(func() error {
		h.metrics.RecordBroadcast(h.route.BroadcastAll(EventDocumentSaved, DocumentSaved{
			Title:    page.Title,
			Revision: page.Revision,
		}))
		return nil
	})
	return nil
}

func hasTransaction(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
