package conversation_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/pitchcoach/internal/conversation"
)

func TestAppend_AssignsIncreasingSeq(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	a := c.Append(conversation.Presenter, "Our platform cuts onboarding time.")
	b := c.Append(conversation.Customer, "By how much?")
	e := c.Append(conversation.Presenter, "")

	if a.Seq != 0 || b.Seq != 1 || e.Seq != 2 {
		t.Errorf("seqs = %d, %d, %d; want 0, 1, 2", a.Seq, b.Seq, e.Seq)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	for i := range 6 {
		c.Append(conversation.Presenter, fmt.Sprintf("turn %d", i))
	}

	tests := []struct {
		name  string
		n     int
		first int
		want  int
	}{
		{"last four", 4, 2, 4},
		{"more than history", 10, 0, 6},
		{"zero", 0, 0, 0},
		{"negative", -1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Recent(tt.n)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			for i, turn := range got {
				if turn.Seq != tt.first+i {
					t.Errorf("got[%d].Seq = %d, want %d", i, turn.Seq, tt.first+i)
				}
			}
		})
	}
}

func TestRecent_EmptyHistory(t *testing.T) {
	t.Parallel()

	if got := conversation.New().Recent(4); len(got) != 0 {
		t.Errorf("Recent on empty history = %v, want empty", got)
	}
}

func TestRecent_ReturnsCopy(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	c.Append(conversation.Presenter, "original")
	got := c.Recent(1)
	got[0].Text = "mutated"

	if c.Turns()[0].Text != "original" {
		t.Error("mutating the result of Recent changed the history")
	}
}

func TestFullTranscript(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	c.Append(conversation.Presenter, "We help sales teams ramp faster.")
	c.Append(conversation.Customer, "What does it cost?")
	c.Append(conversation.Presenter, "Plans start at 20 dollars.")

	want := "PRESENTER: We help sales teams ramp faster.\n" +
		"CUSTOMER: What does it cost?\n" +
		"PRESENTER: Plans start at 20 dollars."
	if got := c.FullTranscript(); got != want {
		t.Errorf("FullTranscript =\n%s\nwant\n%s", got, want)
	}
}

func TestFullTranscript_LineCountMatchesTurns(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	texts := []string{"first", "second\nwith a break", "", "fourth\r\nline"}
	for i, text := range texts {
		sp := conversation.Presenter
		if i%2 == 1 {
			sp = conversation.Customer
		}
		c.Append(sp, text)
	}

	lines := strings.Split(c.FullTranscript(), "\n")
	if len(lines) != len(texts) {
		t.Fatalf("lines = %d, want %d", len(lines), len(texts))
	}
	if lines[1] != "CUSTOMER: second with a break" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != "PRESENTER: " {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestFullTranscript_Empty(t *testing.T) {
	t.Parallel()

	if got := conversation.New().FullTranscript(); got != "" {
		t.Errorf("FullTranscript on empty conversation = %q, want empty", got)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()

	c := conversation.New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			c.Append(conversation.Presenter, "x")
			_ = c.Recent(4)
		})
	}
	wg.Wait()

	turns := c.Turns()
	if len(turns) != 50 {
		t.Fatalf("len = %d, want 50", len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != i {
			t.Fatalf("turns[%d].Seq = %d, sequence must be strictly increasing", i, turn.Seq)
		}
	}
}

func TestSpeaker_IsValid(t *testing.T) {
	t.Parallel()

	if !conversation.Presenter.IsValid() || !conversation.Customer.IsValid() {
		t.Error("presenter and customer must be valid")
	}
	if conversation.Speaker("narrator").IsValid() {
		t.Error("unknown speaker must be invalid")
	}
}
