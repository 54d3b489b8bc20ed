package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/pitchcoach/internal/analysis"
	"github.com/MrWong99/pitchcoach/internal/arbiter"
	"github.com/MrWong99/pitchcoach/internal/conversation"
	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/oracle"
	"github.com/MrWong99/pitchcoach/internal/oracle/mock"
	"github.com/MrWong99/pitchcoach/internal/session"
)

const reportJSON = `{"overall_score": 6, "performance_level": "fair",
 "criteria_scores": {"value_proposition": 6, "objection_handling": 6, "active_listening": 6,
  "question_quality": 6, "call_to_action": 6, "engagement": 6, "rule_compliance": 6},
 "strengths": ["a", "b", "c"], "improvements": [], "summary": "ok", "next_steps": ["x", "y", "z"]}`

// recorder collects messages sent by a loop.
type recorder struct {
	mu   sync.Mutex
	msgs []session.Message
	err  error
}

func (r *recorder) send(_ context.Context, m session.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) messages() []session.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Message(nil), r.msgs...)
}

type harness struct {
	sess   *session.Session
	loop   *session.Loop
	oracle *mock.Oracle
	out    *recorder
}

// newHarness wires a loop to a real arbiter, questioner and analyzer that
// share one scripted oracle. fn routes prompts by purpose.
func newHarness(t *testing.T, fn func(p oracle.Prompt) (string, error)) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	o := &mock.Oracle{Func: func(_ context.Context, p oracle.Prompt) (string, error) { return fn(p) }}
	store := session.NewStore(session.WithMetrics(m))
	sess := store.Create(context.Background())
	out := &recorder{}
	loop := session.NewLoop(session.LoopConfig{
		Session:  sess,
		Decider:  arbiter.New(o, arbiter.WithMetrics(m)),
		Asker:    arbiter.NewQuestioner(o, 0),
		Analyzer: analysis.New(o, analysis.WithMetrics(m)),
		Send:     out.send,
	})
	return &harness{sess: sess, loop: loop, oracle: o, out: out}
}

func (h *harness) handle(t *testing.T, ev session.Event) bool {
	t.Helper()
	done, err := h.loop.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle(%s): %v", ev.Type, err)
	}
	return done
}

func replies(reply string) func(oracle.Prompt) (string, error) {
	return func(p oracle.Prompt) (string, error) {
		switch p.Purpose {
		case oracle.PurposeAnalysis:
			return reportJSON, nil
		case oracle.PurposeScript:
			return "Nice work today.", nil
		case oracle.PurposeQuestion:
			return "How does billing work?", nil
		}
		return reply, nil
	}
}

func TestLoop_Greeting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventStartSession})

	msgs := h.out.messages()
	if len(msgs) != 1 || msgs[0].Type != session.MessageAvatarSpeak || msgs[0].Text != session.DefaultGreeting {
		t.Fatalf("messages = %+v, want the greeting", msgs)
	}
	if !h.sess.GreetingSent() {
		t.Error("greeting flag not set")
	}
	if h.sess.Conversation().Len() != 0 {
		t.Error("the greeting must not become a turn")
	}
}

func TestLoop_PauseBeforeGreetingIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("Sure, tell me more about it."))
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "What do you think about our pricing model?"})

	if h.oracle.CallCount() != 0 {
		t.Error("oracle must not be called before the greeting")
	}
	if len(h.out.messages()) != 0 || h.sess.Conversation().Len() != 0 {
		t.Error("nothing should be sent or recorded before the greeting")
	}
}

func TestLoop_ShortPauseSkipsOracle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Okay so"})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "   "})

	if h.oracle.CallCount() != 0 {
		t.Errorf("oracle calls = %d, want 0 for short utterances", h.oracle.CallCount())
	}
	if h.sess.Conversation().Len() != 0 {
		t.Error("skipped pauses must not be recorded")
	}
}

func TestLoop_SpeakAppendsPresenterThenCustomer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("It seems a bit high for us."))
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "  What do you think about our pricing?  "})

	msgs := h.out.messages()
	if len(msgs) != 2 || msgs[1].Text != "It seems a bit high for us." {
		t.Fatalf("messages = %+v", msgs)
	}
	turns := h.sess.Conversation().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %+v, want 2", turns)
	}
	if turns[0].Speaker != conversation.Presenter || turns[0].Text != "What do you think about our pricing?" {
		t.Errorf("first turn = %+v", turns[0])
	}
	if turns[1].Speaker != conversation.Customer || turns[1].Text != "It seems a bit high for us." {
		t.Errorf("second turn = %+v", turns[1])
	}
}

func TestLoop_SilentAppendsPresenterOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Our platform reduces onboarding time by forty percent."})

	if n := len(h.out.messages()); n != 1 {
		t.Errorf("messages = %d, want only the greeting", n)
	}
	turns := h.sess.Conversation().Turns()
	if len(turns) != 1 || turns[0].Speaker != conversation.Presenter {
		t.Errorf("turns = %+v, want one presenter turn", turns)
	}
}

func TestLoop_ForcedFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("NO RESPONSE"))
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Does that make sense so far."})

	msgs := h.out.messages()
	if len(msgs) != 2 || msgs[1].Text != arbiter.DefaultFallbackReply {
		t.Errorf("messages = %+v, want the fallback reply", msgs)
	}
}

func TestLoop_RequestQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventRequestQuestion, RecentText: "We bill per seat."})

	msgs := h.out.messages()
	if len(msgs) != 1 || msgs[0].Text != "How does billing work?" {
		t.Fatalf("messages = %+v", msgs)
	}
	turns := h.sess.Conversation().Turns()
	if len(turns) != 1 || turns[0].Speaker != conversation.Customer {
		t.Errorf("turns = %+v, want one customer turn", turns)
	}
}

func TestLoop_EndPresentation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Our platform reduces onboarding time by forty percent."})
	if done := h.handle(t, session.Event{Type: session.EventEndPresentation, Duration: 95}); !done {
		t.Error("end_presentation should end the loop")
	}

	msgs := h.out.messages()
	last := msgs[len(msgs)-1]
	if last.Type != session.MessageCoachingReport || last.SessionID != h.sess.ID {
		t.Fatalf("last message = %+v", last)
	}
	if last.Report == nil || last.Report.OverallScore != 6 || last.CoachingScript != "Nice work today." {
		t.Errorf("report/script = %+v / %q", last.Report, last.CoachingScript)
	}

	r, ok := h.sess.Result()
	if !ok {
		t.Fatal("result not stored on the session")
	}
	if r.Duration != 95*time.Second || !strings.HasPrefix(r.Transcript, "PRESENTER: Our platform") {
		t.Errorf("result = %+v", r)
	}
}

func TestLoop_EndEmptyPresentation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.handle(t, session.Event{Type: session.EventEndPresentation})

	if h.oracle.CallCount() != 0 {
		t.Error("an empty presentation must not be sent for analysis")
	}
	msgs := h.out.messages()
	if len(msgs) != 1 || msgs[0].Report == nil || msgs[0].Report.OverallScore != 0 {
		t.Errorf("messages = %+v, want an empty report", msgs)
	}
}

func TestLoop_AnalysisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p oracle.Prompt) (string, error) {
		if p.Purpose == oracle.PurposeAnalysis {
			return "", errors.New("upstream 500")
		}
		return "SILENT", nil
	})
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Our platform reduces onboarding time by forty percent."})
	h.handle(t, session.Event{Type: session.EventEndPresentation})

	msgs := h.out.messages()
	last := msgs[len(msgs)-1]
	if last.Type != session.MessageError || !strings.HasPrefix(last.Message, "analysis failed: ") {
		t.Errorf("last message = %+v, want an analysis error", last)
	}
	if _, ok := h.sess.Result(); ok {
		t.Error("a failed analysis must not store a result")
	}
}

func TestLoop_ScriptFailureStillSendsReport(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p oracle.Prompt) (string, error) {
		switch p.Purpose {
		case oracle.PurposeAnalysis:
			return reportJSON, nil
		case oracle.PurposeScript:
			return "", errors.New("timeout")
		}
		return "SILENT", nil
	})
	h.handle(t, session.Event{Type: session.EventStartSession})
	h.handle(t, session.Event{Type: session.EventPauseDetected, RecentText: "Our platform reduces onboarding time by forty percent."})
	h.handle(t, session.Event{Type: session.EventEndPresentation})

	msgs := h.out.messages()
	last := msgs[len(msgs)-1]
	if last.Type != session.MessageCoachingReport || last.Report == nil || last.CoachingScript != "" {
		t.Errorf("last message = %+v, want report without script", last)
	}
}

func TestLoop_UnknownEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	if done := h.handle(t, session.Event{Type: "dance"}); done {
		t.Error("unknown events must not end the loop")
	}
	msgs := h.out.messages()
	if len(msgs) != 1 || msgs[0].Type != session.MessageError {
		t.Errorf("messages = %+v, want one error", msgs)
	}
}

func TestLoop_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	events := make(chan session.Event, 4)
	events <- session.Event{Type: session.EventStartSession}
	events <- session.Event{Type: session.EventTranscriptUpdate, Text: "hello"}
	events <- session.Event{Type: session.EventEndPresentation}
	events <- session.Event{Type: session.EventStartSession}

	if err := h.loop.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(h.out.messages()); n != 2 {
		t.Errorf("messages = %d, want greeting and report only", n)
	}
	if len(events) != 1 {
		t.Error("events after end_presentation must not be consumed")
	}
}

func TestLoop_RunStopsOnSendError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	h.out.err = errors.New("connection closed")

	events := make(chan session.Event, 1)
	events <- session.Event{Type: session.EventStartSession}
	if err := h.loop.Run(context.Background(), events); err == nil {
		t.Fatal("expected delivery error")
	}
	if h.sess.GreetingSent() {
		t.Error("undelivered greeting must not mark the session")
	}
}

func TestLoop_RunCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, replies("SILENT"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.loop.Run(ctx, make(chan session.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
}
