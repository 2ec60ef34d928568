package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/chadiek/shop-assist/internal/conversation"
	"github.com/chadiek/shop-assist/internal/dispatch"
	"github.com/chadiek/shop-assist/internal/session"
)

var (
	backendURL = flag.String("backend", "http://localhost:8000/api/v1/rag/chat", "Reasoning backend chat endpoint")
	audio      = flag.Bool("audio", false, "Enable the simulated spoken rendition")
	cards      = flag.Bool("cards", true, "Render product result cards")
	truncateAt = flag.Int("truncate", 220, "Spoken rendition length cap in runes (0 = unlimited)")
	verbose    = flag.Bool("verbose", false, "Log component activity")
)

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	defer logger.Sync()

	events := make(chan session.Event, 64)
	ctrl := session.New(session.Config{
		AudioEnabledByDefault: *audio,
		ShowResultCards:       *cards,
		TruncateLength:        *truncateAt,
	}, session.Deps{
		Speaker:    &consoleSpeaker{},
		Dispatcher: dispatch.NewClient(*backendURL, 20*time.Second, logger),
		Logger:     logger,
		OnEvent:    func(ev session.Event) { events <- ev },
	})

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldMagenta := color.New(color.FgMagenta, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println(boldMagenta("🛍  Shop Assistant"))
	fmt.Printf("Backend: %s\n", *backendURL)
	fmt.Println("Type a question, or /clear, /audio on|off, /exit.")
	fmt.Println()
	renderMessage(ctrl.Messages()[0], *cards)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit":
			ctrl.Close()
			return
		case line == "/clear":
			ctrl.ClearConversation()
			drainUntilIdle(events, *cards, faint, yellow)
			continue
		case strings.HasPrefix(line, "/audio"):
			ctrl.SetAudioEnabled(strings.HasSuffix(line, "on"))
			fmt.Println(faint(fmt.Sprintf("audio output: %v", ctrl.AudioEnabled())))
			drainPending(events)
			continue
		}

		if err := ctrl.SubmitText(line); err != nil {
			fmt.Println(yellow(err.Error()))
			continue
		}
		drainUntilIdle(events, *cards, faint, yellow)
	}
}

// drainUntilIdle renders events for the current turn until the controller
// settles back to Idle.
func drainUntilIdle(events <-chan session.Event, cards bool, faint, yellow func(...interface{}) string) {
	for ev := range events {
		switch ev.Type {
		case session.EventMessage, session.EventReset:
			if ev.Message != nil {
				renderMessage(*ev.Message, cards)
			}
		case session.EventNotice:
			fmt.Println(yellow(ev.Notice))
		case session.EventPhase:
			switch ev.Phase {
			case session.PhaseThinking:
				fmt.Println(faint("thinking..."))
			case session.PhaseSpeaking:
				fmt.Println(faint("speaking..."))
			case session.PhaseIdle:
				return
			}
		}
	}
}

// drainPending consumes whatever events are already queued without blocking.
func drainPending(events <-chan session.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func renderMessage(msg conversation.Message, cards bool) {
	role := color.New(color.FgCyan, color.Bold).SprintFunc()
	if msg.Role == conversation.RoleUser {
		role = color.New(color.FgGreen, color.Bold).SprintFunc()
	}
	label := "Assistant"
	if msg.Role == conversation.RoleUser {
		label = "You"
	}
	fmt.Printf("%s %s\n", role(label+":"), msg.Text)
	if !cards || len(msg.Results) == 0 {
		return
	}
	name := color.New(color.Bold).SprintFunc()
	price := color.New(color.FgGreen).SprintFunc()
	meta := color.New(color.FgCyan).SprintFunc()
	for _, r := range msg.Results {
		line := fmt.Sprintf("  • %s  %s  %s", name(r.Name), price(fmt.Sprintf("$%.2f", r.Price)), meta(r.Category))
		if r.Brand != "" {
			line += "  " + meta(r.Brand)
		}
		line += fmt.Sprintf("  (%.0f%% match)", r.Relevance*100)
		fmt.Println(line)
	}
}

// consoleSpeaker simulates spoken output so the Speaking phase is observable
// in the terminal: it "plays" for a duration proportional to the text length.
type consoleSpeaker struct {
	mu     sync.Mutex
	cancel chan struct{}
}

func (s *consoleSpeaker) Supported() bool { return true }

func (s *consoleSpeaker) Speak(text string, rate, _, _ float64, onEnd func(), onErr func(error)) {
	s.mu.Lock()
	if s.cancel != nil {
		close(s.cancel)
	}
	cancel := make(chan struct{})
	s.cancel = cancel
	s.mu.Unlock()

	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(len(text))*30/rate) * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	go func() {
		select {
		case <-time.After(d):
			onEnd()
		case <-cancel:
			onEnd()
		}
	}()
}

func (s *consoleSpeaker) CancelAll() {
	s.mu.Lock()
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
	s.mu.Unlock()
}
