// ABOUTME: JSON frame protocol spoken over the /chatHub websocket
// ABOUTME: Invocations from the client, completions and pushed invocations from the server

package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	TypeInvocation = "invocation"
	TypeCompletion = "completion"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Hub methods a client may invoke, and the one method the server invokes on clients.
const (
	TargetSendMessage             = "SendMessage"
	TargetGetConversations        = "GetConversations"
	TargetGetConversationMessages = "GetConversationMessages"
	TargetDeleteConversation      = "DeleteConversation"

	TargetReceiveMessageUpdate = "ReceiveMessageUpdate"
)

// inboundFrame is any frame a client sends.
type inboundFrame struct {
	Type         string            `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
}

// completionFrame answers one invocation. Exactly one of Result or Error is meaningful.
type completionFrame struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocationId"`
	Result       any    `json:"result"`
	Error        string `json:"error,omitempty"`
}

// pushFrame invokes a client-side method.
type pushFrame struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// argString decodes args[i] as a string. A missing or null argument yields "".
func argString(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) || isNull(args[i]) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", fmt.Errorf("argument %d: expected string", i)
	}
	return s, nil
}

// argStrings decodes args[i] as a string list. A missing or null argument yields nil.
func argStrings(args []json.RawMessage, i int) ([]string, error) {
	if i >= len(args) || isNull(args[i]) {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(args[i], &out); err != nil {
		return nil, fmt.Errorf("argument %d: expected string array", i)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
