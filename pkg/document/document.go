package document

import (
	"sync"
	"time"
)

// Document is one shared document: its title, current content and publish state.
type Document struct {
	title string

	mu           sync.RWMutex
	content      string
	revision     uint64
	lastAuthor   string
	lastModified time.Time
	hasPublisher bool
}

// New creates a Document from the initial markup returned by the parse collaborator.
func New(title, initialHTML string) *Document {
	return &Document{
		title:        title,
		content:      initialHTML,
		lastModified: time.Now(),
	}
}

// Title returns the document title.
func (d *Document) Title() string {
	return d.title
}

// HTML returns the current content.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Revision returns the number of transactions applied so far.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Snapshot returns content and revision read under one lock.
func (d *Document) Snapshot() (html string, revision uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content, d.revision
}

// LastAuthor returns the user who applied the most recent transaction.
func (d *Document) LastAuthor() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastAuthor
}

// LastModified returns the time of the most recent transaction, or creation time.
func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastModified
}

// ApplyTransaction applies tx on behalf of author and bumps the revision.
// On error the document is left unchanged.
func (d *Document) ApplyTransaction(author string, tx Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := tx.Apply(d.content)
	if err != nil {
		return err
	}
	d.content = next
	d.revision++
	d.lastAuthor = author
	d.lastModified = time.Now()
	return nil
}

// HasPublisher reports whether a participant currently holds publish rights.
func (d *Document) HasPublisher() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasPublisher
}

// SetHasPublisher records the result of a publish-rights recomputation.
func (d *Document) SetHasPublisher(v bool) {
	d.mu.Lock()
	d.hasPublisher = v
	d.mu.Unlock()
}
