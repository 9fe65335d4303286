package route

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/collab/pkg/document"
)

// Sentinel errors for route operations.
var (
	// ErrRouteClosed is returned when joining a Route that was closed after its last participant left.
	ErrRouteClosed = errors.New("route: closed")

	// ErrRouteExists is returned by Register when a live Route already exists for the title.
	ErrRouteExists = errors.New("route: already registered")

	// ErrPublisherTaken is returned when another participant already holds publish rights.
	ErrPublisherTaken = errors.New("route: publisher already assigned")
)

// Participant is one connected client on a Route.
type Participant interface {
	// UserID returns the participant's user identity.
	UserID() string

	// IsPublisher reports whether the participant holds publish rights.
	IsPublisher() bool

	// Emit queues an event for delivery to the participant. It must not block.
	Emit(event string, payload any) error
}

// JoinState is the view handed to a joining participant.
type JoinState struct {
	HTML     string
	Revision uint64

	// Users lists the other participants in join order.
	Users []string

	// First is true for the first participant ever to join this Route.
	First bool
}

// Route binds a Document to its connected participants.
type Route struct {
	title   string
	doc     *document.Document
	created time.Time
	logger  *slog.Logger

	// mu orders join, leave, publish claims and transaction broadcasts.
	mu     sync.Mutex
	joins  uint64
	closed atomic.Bool

	listMu       sync.RWMutex
	participants []Participant
}

// NewRoute creates a Route for doc with no participants.
func NewRoute(doc *document.Document, logger *slog.Logger) *Route {
	if logger == nil {
		logger = slog.Default()
	}
	return &Route{
		title:   doc.Title(),
		doc:     doc,
		created: time.Now(),
		logger:  logger.With("title", doc.Title()),
	}
}

// Title returns the document title.
func (r *Route) Title() string {
	return r.title
}

// Document returns the shared document.
func (r *Route) Document() *document.Document {
	return r.doc
}

// Participants returns a snapshot of the participant list in join order.
func (r *Route) Participants() []Participant {
	r.listMu.RLock()
	defer r.listMu.RUnlock()
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Len returns the number of participants.
func (r *Route) Len() int {
	r.listMu.RLock()
	defer r.listMu.RUnlock()
	return len(r.participants)
}

// Closed reports whether the Route has been closed.
func (r *Route) Closed() bool {
	return r.closed.Load()
}

// Exclusive runs fn under the Route's ordering lock.
// Broadcasts issued by fn reach every participant before any later ordered work.
func (r *Route) Exclusive(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// join appends p and runs welcome under the ordering lock.
func (r *Route) join(p Participant, welcome func(JoinState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrRouteClosed
	}

	html, rev := r.doc.Snapshot()
	others := r.Participants()
	users := make([]string, len(others))
	for i, o := range others {
		users[i] = o.UserID()
	}
	st := JoinState{
		HTML:     html,
		Revision: rev,
		Users:    users,
		First:    r.joins == 0,
	}

	r.listMu.Lock()
	r.participants = append(r.participants, p)
	r.listMu.Unlock()
	r.joins++

	if welcome != nil {
		welcome(st)
	}
	r.RecomputePublisher()
	return nil
}

// leave removes p and runs farewell under the ordering lock.
// It reports whether the Route closed because it became empty.
func (r *Route) leave(p Participant, farewell func()) (closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasPublisher := p.IsPublisher()

	r.listMu.Lock()
	found := false
	for i, q := range r.participants {
		if q == p {
			r.participants = append(r.participants[:i:i], r.participants[i+1:]...)
			found = true
			break
		}
	}
	empty := len(r.participants) == 0
	r.listMu.Unlock()

	if !found {
		return false
	}

	if wasPublisher {
		r.doc.SetHasPublisher(false)
	}
	r.RecomputePublisher()

	if farewell != nil {
		farewell()
	}

	if empty {
		r.closed.Store(true)
	}
	return empty
}

// closeIfEmpty closes the Route when it has no participants.
func (r *Route) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return true
	}
	if r.Len() > 0 {
		return false
	}
	r.closed.Store(true)
	return true
}

// ClaimPublisher runs grant under the ordering lock if no participant other
// than p holds publish rights.
func (r *Route) ClaimPublisher(p Participant, grant func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, q := range r.Participants() {
		if q != p && q.IsPublisher() {
			return ErrPublisherTaken
		}
	}
	grant()
	return nil
}

// HasPublisher reports whether any participant holds publish rights.
func HasPublisher(participants []Participant) bool {
	for _, p := range participants {
		if p.IsPublisher() {
			return true
		}
	}
	return false
}

// RecomputePublisher refreshes the document's publisher flag from the participant list.
func (r *Route) RecomputePublisher() {
	r.doc.SetHasPublisher(HasPublisher(r.Participants()))
}

// BroadcastExcept emits event to every participant other than except and
// returns the number of successful enqueues.
func (r *Route) BroadcastExcept(event string, payload any, except Participant) int {
	sent := 0
	for _, p := range r.Participants() {
		if p == except {
			continue
		}
		if err := p.Emit(event, payload); err != nil {
			r.logger.Warn("broadcast emit failed", "event", event, "user_id", p.UserID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// BroadcastAll emits event to every participant.
func (r *Route) BroadcastAll(event string, payload any) int {
	return r.BroadcastExcept(event, payload, nil)
}
