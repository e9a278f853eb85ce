// ABOUTME: Conversation record and the ConversationStore interface
// ABOUTME: Shared by the SQLite, bbolt, and MongoDB backends

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// Conversation is the persisted metadata for one chat. The message history itself
// lives in the assistant backend's thread and is never copied here.
type Conversation struct {
	ID          string    `json:"id" bson:"_id"`
	ThreadID    string    `json:"threadId" bson:"threadId"`
	AssistantID string    `json:"assistantId" bson:"assistantId"`
	CreatedOn   time.Time `json:"createdOn" bson:"createdOn"`
	Title       *string   `json:"title" bson:"title"`
}

// Clone returns a deep copy so callers can mutate the title without aliasing.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Title != nil {
		title := *c.Title
		out.Title = &title
	}
	return &out
}

// HasTitle reports whether a non-empty title has been set.
func (c *Conversation) HasTitle() bool {
	return c.Title != nil && *c.Title != ""
}

// ConversationStore persists conversation records keyed by id.
type ConversationStore interface {
	// SaveConversation inserts or replaces the record with the same ID.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns ErrNotFound if no record has the given id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns every record, newest CreatedOn first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// DeleteConversation returns ErrNotFound if no record has the given id.
	DeleteConversation(ctx context.Context, id string) error

	// Ping verifies the backing service is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// timeLayout is fixed-width so that lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
