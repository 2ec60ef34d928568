package conversation

import "sync"

// Log is the append-only conversation history. Existing entries are never
// mutated or reordered; the only wholesale change is Reset, which replaces
// the log with its initial greeting message.
//
// Results can only be attached through AppendAssistant, so user messages
// structurally never carry result items.
type Log struct {
	mu       sync.Mutex
	greeting string
	messages []Message
}

// NewLog creates a log seeded with a single assistant greeting.
func NewLog(greeting string) *Log {
	l := &Log{greeting: greeting}
	l.messages = []Message{newMessage(RoleAssistant, greeting, KindGreeting, nil)}
	return l
}

// AppendUser appends a user turn and returns the stored message.
func (l *Log) AppendUser(text string) Message {
	m := newMessage(RoleUser, text, "", nil)
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
	return m
}

// AppendAssistant appends an assistant turn with optional result items.
func (l *Log) AppendAssistant(text string, kind Kind, results []ResultItem) Message {
	m := newMessage(RoleAssistant, text, kind, results)
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
	return m
}

// Reset drops all history and restores the initial greeting message.
// It returns the fresh greeting entry.
func (l *Log) Reset() Message {
	m := newMessage(RoleAssistant, l.greeting, KindGreeting, nil)
	l.mu.Lock()
	l.messages = []Message{m}
	l.mu.Unlock()
	return m
}

// Messages returns a snapshot copy of the log in insertion order.
// Result slices are copied too, so callers can mutate the snapshot freely.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	for i := range out {
		if len(out[i].Results) == 0 {
			continue
		}
		results := make([]ResultItem, len(out[i].Results))
		copy(results, out[i].Results)
		out[i].Results = results
	}
	return out
}

// Len reports the number of messages currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
