// Package conversation orchestrates assistant turns.
//
// # Overview
//
// Service sits between the realtime hub and the assistant backend. One call
// to SendMessage drives a complete turn:
//
//  1. Lock the conversation id (turns on one conversation never overlap)
//  2. Append the user message to the existing thread, or create a thread and
//     persist a new Conversation record before anything else happens
//  3. Start a streamed run and drain its events
//  4. Execute requested tools through the tool registry and resume the same
//     run with their outputs, until the run stops asking
//  5. On completion, title an untitled conversation
//
// # Streaming
//
// Every text delta grows the turn's MessageUpdate, and the full snapshot is
// handed to the UpdateSink immediately. Sink errors are ignored: a client that
// went away must not stop the run.
//
// # Tool loop bound
//
// After each drained stream the loop stops when no tool output was produced or
// the run reported a terminal status. Otherwise outputs are submitted against
// the same run. Config.MaxToolRounds caps the number of submissions; going past
// it returns ErrToolRoundLimit. Tool calls naming an unregistered tool are
// logged and skipped.
//
// # Errors
//
//   - Whitespace-only input: (nil, nil)
//   - Backend or stream failure: returned as-is
//   - Run ended failed, cancelled or expired: ErrRunFailed
//   - Title failure: logged, title stays nil
//   - Delete refused by the backend: false, record kept
package conversation
