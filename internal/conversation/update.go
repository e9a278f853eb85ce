// ABOUTME: Streaming message updates pushed to the client that started a turn
// ABOUTME: UpdateSink is implemented by the realtime connection

package conversation

import (
	"context"
	"time"
)

// MessageUpdate is the in-progress assistant reply for one turn. Text holds
// everything received so far and only ever grows; HTML is Text rendered the
// same way history messages are.
type MessageUpdate struct {
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	HTML           string    `json:"html"`
	CreatedOn      time.Time `json:"createdOn"`
}

// UpdateSink receives a snapshot after every change to the turn's update.
type UpdateSink interface {
	SendUpdate(ctx context.Context, update MessageUpdate) error
}

// UpdateSinkFunc adapts a function to UpdateSink.
type UpdateSinkFunc func(ctx context.Context, update MessageUpdate) error

// SendUpdate calls f.
func (f UpdateSinkFunc) SendUpdate(ctx context.Context, update MessageUpdate) error {
	return f(ctx, update)
}

type discardSink struct{}

func (discardSink) SendUpdate(context.Context, MessageUpdate) error { return nil }
