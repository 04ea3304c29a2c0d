package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bowerhall/mira/internal/apperr"
)

type Progress string

const (
	NotStarted Progress = "not_started"
	Running    Progress = "running"
	Finished   Progress = "finished"
)

// Outcome is only meaningful once a loop has Finished.
type Outcome string

const (
	OutcomeNone Outcome = ""
	Success     Outcome = "success"
	Failure     Outcome = "failure"
)

var (
	ErrAlreadyExecuted = errors.New("loop already executed")
	ErrLoopFailed      = errors.New("loop execution failed")
)

// State is a snapshot; mutating it does not affect the loop.
type State struct {
	Progress Progress
	Outcome  Outcome
	// Result is the runtime's return value on success and the error text
	// on failure.
	Result string
	Err    error
}

type Runtime func(ctx context.Context, task string) (string, error)

type Callback func(ctx context.Context, state State) error

// Loop runs one task exactly once.
type Loop struct {
	task      string
	runtime   Runtime
	onSuccess Callback
	onError   Callback

	mu    sync.Mutex
	state State
}

// NewLoop validates its arguments up front. onError may be nil, in which
// case a failed runtime is returned from Execute wrapped in ErrLoopFailed.
func NewLoop(task string, runtime Runtime, onSuccess, onError Callback) (*Loop, error) {
	if strings.TrimSpace(task) == "" {
		return nil, apperr.Validation("agent.NewLoop", "task must be a non-empty string")
	}
	if runtime == nil {
		return nil, apperr.Validation("agent.NewLoop", "runtime is required")
	}
	if onSuccess == nil {
		return nil, apperr.Validation("agent.NewLoop", "success callback is required")
	}

	return &Loop{
		task:      task,
		runtime:   runtime,
		onSuccess: onSuccess,
		onError:   onError,
		state:     State{Progress: NotStarted},
	}, nil
}

func (l *Loop) Task() string {
	return l.task
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Execute(ctx context.Context) error {
	l.mu.Lock()
	if l.state.Progress != NotStarted {
		l.mu.Unlock()
		return ErrAlreadyExecuted
	}
	l.state = State{Progress: Running}
	l.mu.Unlock()

	result, err := l.run(ctx)

	if err == nil {
		snap := l.finish(State{Progress: Finished, Outcome: Success, Result: result})
		return l.onSuccess(ctx, snap)
	}

	snap := l.finish(State{Progress: Finished, Outcome: Failure, Result: err.Error(), Err: err})
	if l.onError != nil {
		return l.onError(ctx, snap)
	}

	return fmt.Errorf("%w: %w", ErrLoopFailed, err)
}

func (l *Loop) run(ctx context.Context) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindUnknown, "agent.Loop", fmt.Sprintf("runtime panic: %v", r))
		}
	}()

	return l.runtime(ctx, l.task)
}

func (l *Loop) finish(s State) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	return s
}
