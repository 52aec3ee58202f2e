package agent

import (
	"context"
	"errors"
)

// Event is one record from the agent's live event stream, already decoded
// from whatever transport the runner uses. Name follows the wire event
// naming ("run.started", "run.reasoning.delta", ...).
type Event struct {
	Name      string
	SessionID string
	RunID     string
	Data      map[string]any
}

// RunRequest starts one agent turn in a session. Images are data URLs
// attached to the prompt.
type RunRequest struct {
	SessionID string
	RunID     string
	Text      string
	Images    []string
}

// ApprovalDecision answers a pending command or file-change approval.
type ApprovalDecision struct {
	SessionID  string
	ApprovalID string
	Approved   bool
}

// Runner is the boundary to the agent CLI subprocess. Supervising the
// process and parsing its stdout belongs to the embedding application; the
// hub only needs to start runs, cancel them, answer approvals, and consume
// the event stream.
type Runner interface {
	// Start begins a run. Events for the run arrive on the channel
	// returned by Events.
	Start(ctx context.Context, req RunRequest) error

	// Cancel stops the active run of a session, if any.
	Cancel(ctx context.Context, sessionID, runID string) error

	// RespondApproval resolves a pending approval request.
	RespondApproval(ctx context.Context, decision ApprovalDecision) error

	// Events is the agent's single ordered event stream. The channel is
	// closed when the agent goes away.
	Events() <-chan Event
}

// ErrNoAgent is returned by NopRunner for every action.
var ErrNoAgent = errors.New("no agent attached")

// NopRunner stands in when no agent is wired up: every action fails with
// ErrNoAgent and the event stream stays open but silent.
type NopRunner struct {
	events chan Event
}

func NewNopRunner() *NopRunner {
	return &NopRunner{events: make(chan Event)}
}

func (r *NopRunner) Start(ctx context.Context, req RunRequest) error { return ErrNoAgent }

func (r *NopRunner) Cancel(ctx context.Context, sessionID, runID string) error { return ErrNoAgent }

func (r *NopRunner) RespondApproval(ctx context.Context, decision ApprovalDecision) error {
	return ErrNoAgent
}

func (r *NopRunner) Events() <-chan Event { return r.events }
