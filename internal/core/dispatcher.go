package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

const (
	// DefaultMaxHops bounds the hops of a single user turn.
	DefaultMaxHops = 10
	// DefaultClassifyTimeout bounds one routing generation call.
	DefaultClassifyTimeout = 30 * time.Second

	dispatcherName = "dispatcher"
	supervisorName = "supervisor"

	apologyMessage = "Sorry, something went wrong while handling that request. Please try again."
)

// TurnOutcome summarizes how a user turn ended.
type TurnOutcome string

const (
	TurnCompleted TurnOutcome = "completed"
	TurnFailed    TurnOutcome = "failed"
	TurnHopLimit  TurnOutcome = "hop_limit"
)

// TurnResult describes one RunTurn call.
type TurnResult struct {
	Outcome     TurnOutcome
	Hops        int
	NewMessages []schema.Message // messages appended after the user's input
	Err         error            // diagnostic for failed turns
}

// Dispatcher drives the routing state machine:
// supervisor -> {narrative, knowledge, dice, terminal}, narrative -> supervisor,
// knowledge and dice -> terminal.
type Dispatcher struct {
	gen      Generator
	handlers map[schema.Target]Handler

	logger   Logger
	metrics  *Metrics
	recorder *Recorder

	maxHops          int
	classifyTimeout  time.Duration
	supervisorPrompt string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRecorder sets the interaction recorder.
func WithRecorder(r *Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithMaxHops bounds the hops per turn. Values below 1 are ignored.
func WithMaxHops(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxHops = n
		}
	}
}

// WithClassifyTimeout bounds each routing call. Non-positive values are ignored.
func WithClassifyTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.classifyTimeout = timeout
		}
	}
}

// WithSupervisorPrompt replaces the routing instructions.
func WithSupervisorPrompt(prompt string) Option {
	return func(d *Dispatcher) { d.supervisorPrompt = prompt }
}

// NewDispatcher creates a dispatcher routing between the given handlers.
func NewDispatcher(gen Generator, handlers map[schema.Target]Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gen:              gen,
		handlers:         make(map[schema.Target]Handler, len(handlers)),
		logger:           NewNopLogger(),
		maxHops:          DefaultMaxHops,
		classifyTimeout:  DefaultClassifyTimeout,
		supervisorPrompt: llm.SupervisorPrompt,
	}
	for target, h := range handlers {
		d.handlers[target] = h
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxHops returns the configured per-turn hop bound.
func (d *Dispatcher) MaxHops() int {
	return d.maxHops
}

// Step runs one hop and returns the resulting state. The input is never
// modified. A terminal state is returned as is.
func (d *Dispatcher) Step(ctx context.Context, state *SessionState) *SessionState {
	next, _ := d.step(ctx, state)
	return next
}

func (d *Dispatcher) step(ctx context.Context, state *SessionState) (*SessionState, error) {
	switch target := state.RoutingTarget; {
	case target == schema.TargetTerminal:
		return state, nil
	case target == schema.TargetSupervisor:
		return d.route(ctx, state), nil
	case target.IsHandler():
		return d.invoke(ctx, state)
	default:
		return d.fail(ctx, state, &HandlerError{Target: target, Message: "unknown routing target"})
	}
}

// RunTurn seeds a turn with the user's input and steps until terminal or
// until the hop bound forces termination. The returned state always has
// RoutingTarget terminal and an empty CurrentTask, unless the input state
// failed validation, in which case it is returned untouched.
func (d *Dispatcher) RunTurn(ctx context.Context, state *SessionState, input string) (*SessionState, TurnResult) {
	if err := state.Validate(); err != nil {
		d.metrics.turn(TurnFailed)
		return state, TurnResult{Outcome: TurnFailed, Err: err}
	}

	cur := state.BeginTurn(input)
	base := len(cur.Messages)
	res := TurnResult{Outcome: TurnCompleted}

	for cur.RoutingTarget != schema.TargetTerminal {
		if res.Hops >= d.maxHops {
			d.logger.Warn("hop limit reached",
				"session_id", cur.ID,
				"hops", res.Hops,
				"target", cur.RoutingTarget,
			)
			cur = cur.Clone()
			cur.AddMessage(schema.RoleAssistant, dispatcherName,
				fmt.Sprintf("Stopped after %d routing steps without reaching an answer.", res.Hops))
			cur.RoutingTarget = schema.TargetTerminal
			res.Outcome = TurnHopLimit
			break
		}

		next, err := d.step(ctx, cur)
		res.Hops++
		if err != nil {
			res.Outcome = TurnFailed
			res.Err = err
		}
		cur = next
	}

	cur.CurrentTask = ""
	res.NewMessages = append([]schema.Message(nil), cur.Messages[base:]...)
	d.metrics.turn(res.Outcome)

	d.logger.Debug("turn finished",
		"session_id", cur.ID,
		"outcome", res.Outcome,
		"hops", res.Hops,
	)
	return cur, res
}

// route asks the generator where the conversation should go next.
func (d *Dispatcher) route(ctx context.Context, state *SessionState) *SessionState {
	started := time.Now()
	c := d.classify(ctx, state)
	d.metrics.hop(schema.TargetSupervisor, started)
	d.metrics.classified(c)

	if err := c.Failure(); err != nil {
		d.logger.Warn("routing fell back to default target",
			"session_id", state.ID,
			"target", c.Target,
			"reason", c.Fallback,
			"error", err,
		)
	} else {
		d.logger.Debug("routed request", "session_id", state.ID, "target", c.Target)
	}

	next := state.Clone()
	next.RoutingTarget = c.Target
	return next
}

func (d *Dispatcher) classify(ctx context.Context, state *SessionState) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = Classification{
				Target:   DefaultTarget,
				Fallback: FallbackGenerationFailed,
				Err:      fmt.Errorf("generator panic: %v", r),
			}
		}
	}()

	if d.gen == nil {
		return Classification{Target: DefaultTarget, Fallback: FallbackGenerationFailed, Err: errors.New("no generator configured")}
	}

	messages := make([]schema.Message, 0, len(state.Messages)+1)
	messages = append(messages, schema.SystemMessage(d.supervisorPrompt))
	messages = append(messages, state.Messages...)

	cctx, cancel := context.WithTimeout(ctx, d.classifyTimeout)
	defer cancel()

	query, _ := state.LatestContent()
	reply, err := d.gen.Generate(cctx, messages)
	if err != nil {
		c = Classification{Target: DefaultTarget, Fallback: FallbackGenerationFailed, Err: err}
		d.recorder.Record(ctx, state.ID, supervisorName, query, "", map[string]any{
			"target":   string(c.Target),
			"fallback": string(c.Fallback),
			"error":    err.Error(),
		})
		return c
	}

	c = Classify(reply)
	d.recorder.Record(ctx, state.ID, supervisorName, query, reply, map[string]any{
		"target":   string(c.Target),
		"fallback": string(c.Fallback),
	})
	return c
}

// invoke runs the handler for the current target and merges its command.
func (d *Dispatcher) invoke(ctx context.Context, state *SessionState) (*SessionState, error) {
	target := state.RoutingTarget
	started := time.Now()
	defer d.metrics.hop(target, started)

	h, ok := d.handlers[target]
	if !ok {
		return d.fail(ctx, state, &HandlerError{Target: target, Message: "no handler registered"})
	}

	cmd, err := safeHandle(ctx, h, target, state.Clone())
	if err != nil {
		return d.fail(ctx, state, err)
	}

	next, err := state.Apply(cmd)
	if err != nil {
		return d.fail(ctx, state, &HandlerError{Target: target, Message: "invalid command", Err: err})
	}
	return next, nil
}

func safeHandle(ctx context.Context, h Handler, target schema.Target, state *SessionState) (cmd Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Target: target, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	cmd, err = h.Handle(ctx, state)
	if err != nil {
		var herr *HandlerError
		if !errors.As(err, &herr) {
			err = &HandlerError{Target: target, Message: err.Error(), Err: err}
		}
	}
	return cmd, err
}

// fail converts a handler failure into an apology and a terminal transition.
// The failed invocation is recorded under the handler's target.
func (d *Dispatcher) fail(ctx context.Context, state *SessionState, err error) (*SessionState, error) {
	d.metrics.handlerFailed(state.RoutingTarget)
	d.logger.Error("handler failed",
		"session_id", state.ID,
		"target", state.RoutingTarget,
		"error", err,
	)

	query, _ := state.LatestContent()
	d.recorder.Record(ctx, state.ID, string(state.RoutingTarget), query, apologyMessage, map[string]any{
		"error": err.Error(),
	})

	next := state.Clone()
	next.AddMessage(schema.RoleAssistant, dispatcherName, apologyMessage)
	next.RoutingTarget = schema.TargetTerminal
	return next, err
}
