package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind optionally classifies a turn for rendering and tests.
type Kind string

const (
	KindGreeting Kind = "greeting"
	KindAnswer   Kind = "answer"
	KindError    Kind = "error"
)

// ResultItem is one product match attached to an assistant reply.
// Relevance is a similarity score in [0,1] reported by the backend.
type ResultItem struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Brand     string  `json:"brand,omitempty"`
	Price     float64 `json:"price"`
	Relevance float64 `json:"relevance"`
	ImageURL  string  `json:"imageUrl,omitempty"`
}

// Message is one turn in the conversation. The log's insertion order is
// authoritative for logical ordering; CreatedAt is for display only.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Text      string       `json:"text"`
	CreatedAt time.Time    `json:"createdAt"`
	Results   []ResultItem `json:"results,omitempty"`
	Kind      Kind         `json:"kind,omitempty"`
}

func newMessage(role Role, text string, kind Kind, results []ResultItem) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
		Results:   results,
		Kind:      kind,
	}
}
