// Package thought defines the note record and the change events that
// describe its lifecycle.
package thought

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table is the record store table that holds thoughts.
const Table = "thoughts"

// ErrEmptyContent is returned for content that is empty after trimming.
var ErrEmptyContent = errors.New("thought content is empty")

// Thought is a single captured note.
//
// ID, Content and CreatedAt are assigned once at creation and never
// change. AIInsight stays nil until an annotation is written.
type Thought struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	AIInsight *string   `json:"ai_insight,omitempty"`
}

// HasInsight reports whether an annotation has been written.
func (t *Thought) HasInsight() bool {
	return t != nil && t.AIInsight != nil
}

// Insight returns the annotation or "".
func (t *Thought) Insight() string {
	if !t.HasInsight() {
		return ""
	}
	return *t.AIInsight
}

// Clone returns a deep copy.
func (t *Thought) Clone() *Thought {
	if t == nil {
		return nil
	}
	c := *t
	if t.AIInsight != nil {
		s := *t.AIInsight
		c.AIInsight = &s
	}
	return &c
}

// Merge copies the mutable fields of other onto t. Immutable fields
// already set on t are kept.
func (t *Thought) Merge(other *Thought) {
	if other == nil {
		return
	}
	if t.Content == "" {
		t.Content = other.Content
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = other.CreatedAt
	}
	if other.AIInsight != nil {
		s := *other.AIInsight
		t.AIInsight = &s
	}
}

// ValidateContent rejects blank content. Valid content is stored as typed;
// surrounding whitespace only matters for the blank check.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// EventType is the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether e is one of the known event types.
func (e EventType) Valid() bool {
	switch e {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Subject returns the lowercase token used in feed subjects.
func (e EventType) Subject() string {
	return strings.ToLower(string(e))
}

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	EventID         string    `json:"event_id"`
	Type            EventType `json:"eventType"`
	Table           string    `json:"table"`
	New             *Thought  `json:"new,omitempty"`
	Old             *Thought  `json:"old,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// NewChangeEvent builds an event for the thoughts table with a fresh id.
func NewChangeEvent(typ EventType, newRow, oldRow *Thought) ChangeEvent {
	return ChangeEvent{
		EventID:         uuid.NewString(),
		Type:            typ,
		Table:           Table,
		New:             newRow.Clone(),
		Old:             oldRow.Clone(),
		CommitTimestamp: time.Now().UTC(),
	}
}
