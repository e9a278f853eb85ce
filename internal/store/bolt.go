// ABOUTME: bbolt implementation of ConversationStore for single-file embedded deployments
// ABOUTME: Records are JSON values in one bucket keyed by conversation id

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore implements ConversationStore using bbolt
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "store", "driver", "bolt")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	logger.Info("bolt store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Close closes the database file
func (s *BoltStore) Close() error {
	s.logger.Info("closing bolt store")
	return s.db.Close()
}

// Ping runs an empty read transaction.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(conversationsBucket) == nil {
			return fmt.Errorf("bucket %q missing", conversationsBucket)
		}
		return nil
	})
}

// SaveConversation upserts a conversation record. An existing record keeps its
// thread, assistant, and creation time; only the title is replaced.
func (s *BoltStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		record := conv.Clone()
		record.CreatedOn = record.CreatedOn.UTC()

		if existing := b.Get([]byte(conv.ID)); existing != nil {
			var prev Conversation
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("decoding existing record: %w", err)
			}
			prev.Title = record.Title
			record = &prev
		}
		if record.Title != nil && *record.Title == "" {
			record.Title = nil
		}

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(conv.ID), data)
	})
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}

	s.logger.Debug("saved conversation", "conversation_id", conv.ID, "thread_id", conv.ThreadID)
	return nil
}

// GetConversation returns ErrNotFound if no record has the given id.
func (s *BoltStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conv *Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(conversationsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		conv = &Conversation{}
		return json.Unmarshal(data, conv)
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all records, newest first.
func (s *BoltStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	convs := []*Conversation{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				s.logger.Warn("skipping malformed record", "key", string(k), "error", err)
				return nil
			}
			convs = append(convs, &conv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedOn.After(convs[j].CreatedOn)
	})
	return convs, nil
}

// DeleteConversation returns ErrNotFound if no record has the given id.
func (s *BoltStore) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	s.logger.Debug("deleted conversation", "conversation_id", id)
	return nil
}
