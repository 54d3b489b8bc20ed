package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/pitchcoach/internal/analysis"
	"github.com/MrWong99/pitchcoach/internal/arbiter"
	"github.com/MrWong99/pitchcoach/internal/conversation"
	"github.com/MrWong99/pitchcoach/internal/turn"
)

// DefaultGreeting is the customer avatar's opening line.
const DefaultGreeting = "Hi! I'm interested in learning about your product. Go ahead."

// questionContextTurns is how many turns feed a requested question when the
// client sends no recent text.
const questionContextTurns = 4

// Inbound event types.
const (
	EventStartSession     = "start_session"
	EventTranscriptUpdate = "transcript_update"
	EventPauseDetected    = "pause_detected"
	EventRequestQuestion  = "request_question"
	EventEndPresentation  = "end_presentation"
)

// Outbound message types.
const (
	MessageAvatarSpeak    = "avatar_speak"
	MessageCoachingReport = "coaching_report"
	MessageError          = "error"
)

// Event is one message from the browser client.
type Event struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	RecentText string `json:"recent_text,omitempty"`
	// Duration is the presentation length in seconds (end_presentation).
	Duration float64 `json:"duration,omitempty"`
}

// Message is one message to the browser client.
type Message struct {
	Type           string           `json:"type"`
	Text           string           `json:"text,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	Report         *analysis.Report `json:"report,omitempty"`
	CoachingScript string           `json:"coaching_script,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// Decider decides whether the customer avatar reacts to a pause.
type Decider interface {
	Decide(ctx context.Context, presenterText string, history []conversation.Turn) arbiter.Decision
}

// Asker produces a customer follow-up question.
type Asker interface {
	Ask(ctx context.Context, recent string) string
}

// Analyzer produces the end-of-presentation report and coaching script.
type Analyzer interface {
	AnalyzeTimed(ctx context.Context, transcript string, duration time.Duration) (*analysis.Report, error)
	Script(ctx context.Context, report *analysis.Report) (string, error)
}

// SendFunc delivers one message to the client.
type SendFunc func(ctx context.Context, msg Message) error

// LoopConfig holds the dependencies of a [Loop].
type LoopConfig struct {
	Session  *Session
	Decider  Decider
	Asker    Asker
	Analyzer Analyzer
	Send     SendFunc

	// Gate filters pauses before the Decider is consulted. A zero MinWords
	// uses [turn.DefaultMinWords].
	Gate turn.Gate

	// Greeting overrides [DefaultGreeting].
	Greeting string
}

// Loop processes the events of one session strictly in order. A Loop is
// not safe for concurrent use; run exactly one per session.
type Loop struct {
	sess     *Session
	decider  Decider
	asker    Asker
	analyzer Analyzer
	send     SendFunc
	gate     turn.Gate
	greeting string
	log      *slog.Logger
}

// NewLoop returns a Loop for cfg.Session.
func NewLoop(cfg LoopConfig) *Loop {
	gate := cfg.Gate
	if gate.MinWords <= 0 {
		gate.MinWords = turn.DefaultMinWords
	}
	greeting := strings.TrimSpace(cfg.Greeting)
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Loop{
		sess:     cfg.Session,
		decider:  cfg.Decider,
		asker:    cfg.Asker,
		analyzer: cfg.Analyzer,
		send:     cfg.Send,
		gate:     gate,
		greeting: greeting,
		log:      slog.With("session_id", cfg.Session.ID),
	}
}

// Run handles events until the presentation ends, events is closed or ctx
// is cancelled. Only delivery failures and cancellation are returned.
func (l *Loop) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			done, err := l.Handle(ctx, ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// Handle processes one event. done is true once the presentation has ended.
// err is non-nil only when a message could not be delivered.
func (l *Loop) Handle(ctx context.Context, ev Event) (done bool, err error) {
	switch ev.Type {
	case EventStartSession:
		return false, l.startSession(ctx)
	case EventTranscriptUpdate:
		l.log.Debug("transcript update", "chars", len(ev.Text))
		return false, nil
	case EventPauseDetected:
		return false, l.pause(ctx, ev.RecentText)
	case EventRequestQuestion:
		return false, l.question(ctx, ev.RecentText)
	case EventEndPresentation:
		return true, l.end(ctx, time.Duration(ev.Duration*float64(time.Second)))
	default:
		l.log.Warn("unknown event type", "type", ev.Type)
		return false, l.emit(ctx, Message{Type: MessageError, Message: fmt.Sprintf("unknown event type %q", ev.Type)})
	}
}

func (l *Loop) startSession(ctx context.Context) error {
	if err := l.emit(ctx, Message{Type: MessageAvatarSpeak, Text: l.greeting}); err != nil {
		return err
	}
	l.sess.markGreetingSent()
	l.log.Info("greeting sent")
	return nil
}

func (l *Loop) pause(ctx context.Context, recentText string) error {
	text := strings.TrimSpace(recentText)
	if !l.gate.ShouldConsiderSpeaking(text) {
		l.log.Debug("pause ignored, utterance too short", "words", len(strings.Fields(text)))
		return nil
	}
	if !l.sess.GreetingSent() {
		l.log.Debug("pause ignored, greeting not sent yet")
		return nil
	}

	conv := l.sess.Conversation()
	d := l.decider.Decide(ctx, text, conv.Turns())
	if d.Action != arbiter.Speak {
		conv.Append(conversation.Presenter, text)
		return nil
	}

	if err := l.emit(ctx, Message{Type: MessageAvatarSpeak, Text: d.Text}); err != nil {
		return err
	}
	conv.Append(conversation.Presenter, text)
	conv.Append(conversation.Customer, d.Text)
	return nil
}

func (l *Loop) question(ctx context.Context, recentText string) error {
	conv := l.sess.Conversation()
	recent := strings.TrimSpace(recentText)
	if recent == "" {
		recent = conversation.Render(conv.Recent(questionContextTurns))
	}
	q := l.asker.Ask(ctx, recent)
	if err := l.emit(ctx, Message{Type: MessageAvatarSpeak, Text: q}); err != nil {
		return err
	}
	conv.Append(conversation.Customer, q)
	return nil
}

func (l *Loop) end(ctx context.Context, duration time.Duration) error {
	conv := l.sess.Conversation()
	transcript := conv.FullTranscript()

	var (
		report *analysis.Report
		script string
	)
	if conv.Len() == 0 {
		report = analysis.EmptyReport()
	} else {
		var err error
		report, err = l.analyzer.AnalyzeTimed(ctx, transcript, duration)
		if err != nil {
			l.log.Error("presentation analysis failed", "err", err)
			return l.emit(ctx, Message{Type: MessageError, Message: err.Error()})
		}
		script, err = l.analyzer.Script(ctx, report)
		if err != nil {
			l.log.Warn("coaching script failed, sending report only", "err", err)
			script = ""
		}
	}

	l.sess.SetResult(Result{
		Transcript: transcript,
		Duration:   duration,
		Report:     report,
		Script:     script,
		AnalyzedAt: time.Now().UTC(),
	})
	l.log.Info("presentation ended", "turns", conv.Len(), "duration", duration)
	return l.emit(ctx, Message{
		Type:           MessageCoachingReport,
		SessionID:      l.sess.ID,
		Report:         report,
		CoachingScript: script,
	})
}

func (l *Loop) emit(ctx context.Context, msg Message) error {
	if err := l.send(ctx, msg); err != nil {
		return fmt.Errorf("session: send %s: %w", msg.Type, err)
	}
	return nil
}
