package conversation

import "testing"

func TestLog_StartsWithGreeting(t *testing.T) {
	l := NewLog("welcome")
	msgs := l.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != RoleAssistant || msgs[0].Kind != KindGreeting || msgs[0].Text != "welcome" {
		t.Fatalf("unexpected greeting message: %+v", msgs[0])
	}
}

func TestLog_AppendPreservesOrderAndEntries(t *testing.T) {
	l := NewLog("hi")
	u := l.AppendUser("show me shoes")
	a := l.AppendAssistant("here you go", KindAnswer, []ResultItem{{Name: "Runner", Price: 79.99, Relevance: 0.9}})

	msgs := l.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].ID != u.ID || msgs[2].ID != a.ID {
		t.Fatalf("messages out of order")
	}
	if msgs[1].Role != RoleUser || len(msgs[1].Results) != 0 {
		t.Fatalf("user message should carry no results: %+v", msgs[1])
	}
	if msgs[2].Role != RoleAssistant || len(msgs[2].Results) != 1 {
		t.Fatalf("assistant message should carry results: %+v", msgs[2])
	}
}

func TestLog_MessagesReturnsSnapshot(t *testing.T) {
	l := NewLog("hi")
	l.AppendUser("one")
	l.AppendAssistant("two", KindAnswer, []ResultItem{{Name: "Runner", Price: 79.99}})
	snap := l.Messages()
	snap[0].Text = "mutated"
	snap[2].Results[0].Name = "Hiker"
	snap[2].Results[0].Price = 1.0
	snap = append(snap, Message{})

	if got := l.Messages()[0].Text; got != "hi" {
		t.Fatalf("log entry mutated through snapshot: %q", got)
	}
	if r := l.Messages()[2].Results[0]; r.Name != "Runner" || r.Price != 79.99 {
		t.Fatalf("result item mutated through snapshot: %+v", r)
	}
	if l.Len() != 3 {
		t.Fatalf("expected len 3, got %d", l.Len())
	}
}

func TestLog_ResetRestoresSingleGreeting(t *testing.T) {
	l := NewLog("hello again")
	l.AppendUser("a")
	l.AppendAssistant("b", KindAnswer, nil)
	first := l.Messages()[0].ID

	greeting := l.Reset()
	msgs := l.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after reset, got %d", len(msgs))
	}
	if msgs[0].ID != greeting.ID || msgs[0].Text != "hello again" || msgs[0].Kind != KindGreeting {
		t.Fatalf("unexpected message after reset: %+v", msgs[0])
	}
	if msgs[0].ID == first {
		t.Fatalf("reset should mint a fresh greeting entry")
	}
}

func TestLog_UniqueIDs(t *testing.T) {
	l := NewLog("hi")
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		m := l.AppendUser("x")
		if seen[m.ID] {
			t.Fatalf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}
}
