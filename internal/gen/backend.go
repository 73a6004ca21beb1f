package gen

import "context"

// Chat message roles, mirroring the OpenAI-compatible wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// Backend is the generative text collaborator. It returns free-form text and
// makes no promise about honoring structural instructions; everything in this
// package exists to compensate for that.
type Backend interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Verdict is the outcome of validating a parsed candidate. Expected
// validation failures travel as values, not errors, so the retry loop can
// feed the reason back to the model.
type Verdict struct {
	OK     bool
	Reason string
}

func Valid() Verdict { return Verdict{OK: true} }

func Invalid(reason string) Verdict { return Verdict{Reason: reason} }
