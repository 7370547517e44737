// Package bridge turns an agent session into a blocking, concurrency-safe
// call surface. One worker goroutine owns the agent; callers queue on an
// unbuffered channel and are served in arrival order.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/toolclient"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("bridge closed")

type job func(a *agent.Agent)

type Bridge struct {
	agent *agent.Agent
	jobs  chan job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts the worker for a. The bridge takes ownership of a; callers must
// not use it directly afterwards.
func New(a *agent.Agent) *Bridge {
	b := &Bridge{
		agent: a,
		jobs:  make(chan job),
		done:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bridge) loop() {
	defer close(b.done)
	for j := range b.jobs {
		j(b.agent)
	}
}

// do runs fn on the worker and waits for it to finish.
func (b *Bridge) do(fn job) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	finished := make(chan struct{})
	b.jobs <- func(a *agent.Agent) {
		defer close(finished)
		fn(a)
	}
	<-finished
	return nil
}

// ProcessQuery runs one workflow. Cancelling ctx does not abort a workflow
// that has started; each step carries its own timeout.
func (b *Bridge) ProcessQuery(ctx context.Context, query string) (agent.Response, error) {
	ctx = context.WithoutCancel(ctx)
	var resp agent.Response
	err := b.do(func(a *agent.Agent) {
		resp = a.Process(ctx, query)
	})
	return resp, err
}

// ProcessQueryAs runs one workflow for email in a single job, so the email
// cannot be swapped by another caller in between. The session's customer is
// left unchanged.
func (b *Bridge) ProcessQueryAs(ctx context.Context, email, query string) (agent.Response, error) {
	ctx = context.WithoutCancel(ctx)
	var resp agent.Response
	err := b.do(func(a *agent.Agent) {
		resp = a.ProcessAs(ctx, email, query)
	})
	return resp, err
}

func (b *Bridge) ToolCallLog() ([]agent.ToolCall, error) {
	var out []agent.ToolCall
	err := b.do(func(a *agent.Agent) { out = a.ToolCallLog() })
	return out, err
}

// ServerStats returns the tool server's counters as JSON.
func (b *Bridge) ServerStats(ctx context.Context) (json.RawMessage, error) {
	var (
		out     json.RawMessage
		callErr error
	)
	err := b.do(func(a *agent.Agent) { out, callErr = a.ServerStats(ctx) })
	if err != nil {
		return nil, err
	}
	return out, callErr
}

func (b *Bridge) SecurityLog() ([]agent.SecurityEvent, error) {
	var out []agent.SecurityEvent
	err := b.do(func(a *agent.Agent) { out = a.SecurityLog() })
	return out, err
}

func (b *Bridge) ClearSecurityLog() error {
	return b.do(func(a *agent.Agent) { a.ClearSecurityLog() })
}

func (b *Bridge) ClearHistory() error {
	return b.do(func(a *agent.Agent) { a.ClearHistory() })
}

// SetCustomerEmail changes the session's customer. Queued queries submitted
// earlier still run with the previous email.
func (b *Bridge) SetCustomerEmail(email string) error {
	return b.do(func(a *agent.Agent) { a.SetCustomerEmail(email) })
}

func (b *Bridge) CustomerEmail() (string, error) {
	var out string
	err := b.do(func(a *agent.Agent) { out = a.CustomerEmail() })
	return out, err
}

func (b *Bridge) AvailableTools() ([]toolclient.ToolInfo, error) {
	var out []toolclient.ToolInfo
	err := b.do(func(a *agent.Agent) { out = a.AvailableTools() })
	return out, err
}

func (b *Bridge) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	var (
		out     json.RawMessage
		callErr error
	)
	err := b.do(func(a *agent.Agent) { out, callErr = a.ReadResource(ctx, uri) })
	if err != nil {
		return nil, err
	}
	return out, callErr
}

// Close waits for queued calls to finish and stops the worker. Later calls
// fail with ErrClosed. Close is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()
	<-b.done
	return nil
}
