// Package mock provides a scripted test double for oracle.Oracle.
//
// Replies are consumed in order; once exhausted the last reply repeats. Set
// Err to make every call fail, or Func for full control.
//
//	o := &mock.Oracle{Replies: []string{"SILENT"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pitchcoach/internal/oracle"
)

// Call records a single invocation of Generate.
type Call struct {
	Ctx    context.Context
	Prompt oracle.Prompt
}

// Oracle is a mock implementation of oracle.Oracle.
type Oracle struct {
	mu sync.Mutex

	// Replies are returned in order. The last one repeats when exhausted.
	Replies []string

	// Err, if non-nil, is returned by every call.
	Err error

	// Func, if set, overrides Replies and Err.
	Func func(ctx context.Context, p oracle.Prompt) (string, error)

	calls []Call
}

// Generate records the call and returns the next scripted reply.
func (o *Oracle) Generate(ctx context.Context, p oracle.Prompt) (string, error) {
	o.mu.Lock()
	idx := len(o.calls)
	o.calls = append(o.calls, Call{Ctx: ctx, Prompt: p})
	fn, err := o.Func, o.Err
	var reply string
	if n := len(o.Replies); n > 0 {
		reply = o.Replies[min(idx, n-1)]
	}
	o.mu.Unlock()

	if fn != nil {
		return fn(ctx, p)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Calls returns a snapshot of every recorded call.
func (o *Oracle) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Call, len(o.calls))
	copy(out, o.calls)
	return out
}

// CallCount returns the number of Generate calls so far.
func (o *Oracle) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

var _ oracle.Oracle = (*Oracle)(nil)
