package domain

import "context"

// Message roles accepted by chat-style backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage is shorthand for a single user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

type ChatRequest struct {
	Messages []Message
	Model    string
	// JSONMode asks the backend for structured output. Best effort only: callers
	// still strip fences and validate the reply.
	JSONMode bool
	// MaxRetries caps attempts made by the resilient client. Zero means the default.
	MaxRetries int
}

// Backend is a single remote chat-completion endpoint. Implementations make one
// attempt per call and report failures as *ModelError so callers can classify them.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Generator produces model text for a prompt. The resilient client implements it;
// agents depend on it so tests can substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req ChatRequest) (string, error)
}
