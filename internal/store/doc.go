// Package store persists conversation metadata for the gateway.
//
// # Architecture
//
// A Conversation links a gateway-visible id to the assistant backend thread
// that holds its messages, plus the assistant id, creation time, and an
// optional generated title. Message history is never stored here.
//
// ConversationStore has three implementations, selected by store.driver:
//
//   - SQLiteStore: default; one table in a WAL-mode SQLite file
//   - BoltStore: JSON values in a single bbolt bucket
//   - MongoStore: one MongoDB collection, also usable with Cosmos DB's MongoDB API
//
// # Semantics
//
// SaveConversation is an upsert keyed by ID. Once a record exists only its
// title changes; thread, assistant, and creation time are fixed.
// ListConversations returns records ordered by CreatedOn, newest first.
//
// # Error Handling
//
// ErrNotFound is returned by GetConversation and DeleteConversation when no
// record has the requested id. Other failures are wrapped with context.
//
// # Testing
//
// Use NewMockStore() for unit tests of higher layers:
//
//	s := store.NewMockStore()
//	s.SaveErr = errors.New("boom") // inject failures
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for real storage.
package store
