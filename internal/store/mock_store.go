// ABOUTME: Mock ConversationStore implementation for testing
// ABOUTME: Allows tests to run without a database and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory ConversationStore for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation

	// SaveErr, when set, is returned by every SaveConversation call.
	SaveErr error
	// PingErr, when set, is returned by Ping.
	PingErr error

	saves int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
	}
}

// SaveConversation stores a copy of conv, keeping the original creation fields
// when the id already exists.
func (m *MockStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saves++

	record := conv.Clone()
	if existing, ok := m.conversations[conv.ID]; ok {
		updated := existing.Clone()
		updated.Title = record.Title
		record = updated
	}
	if record.Title != nil && *record.Title == "" {
		record.Title = nil
	}
	m.conversations[conv.ID] = record
	return nil
}

// GetConversation returns a copy of the stored record.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// ListConversations returns copies of all records, newest first.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		result = append(result, conv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedOn.After(result[j].CreatedOn)
	})
	return result, nil
}

// DeleteConversation removes a record.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// SaveCount returns how many successful SaveConversation calls were made.
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
