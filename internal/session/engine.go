// Package session implements multi-step conversational forms.
//
// A Flow is an ordered list of Steps that fill a Draft, followed by a single
// Commit. Each user has at most one active session; starting a new one
// replaces the old, and Cancel discards the draft without writing anything.
// Sessions live in memory only and are lost on restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"catalog_bot/internal/model"
)

// ErrNoSession is returned by Handle when the user has no active session.
var ErrNoSession = errors.New("no active session")

// ValidationError is a user-correctable problem with an input. Field names
// the step to return to when it comes from a Commit; empty means the
// current step.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid returns a ValidationError for the current step.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Media is an attachment received from the user.
type Media struct {
	Ref      string
	ThumbRef string
	Kind     model.PayloadKind
}

// Input is one user event delivered to a session. Choice is set when the
// event came from a button rather than typed text.
type Input struct {
	Text   string
	Choice string
	Media  *Media
}

// Value returns the button choice if present, otherwise the text.
func (in Input) Value() string {
	if in.Choice != "" {
		return in.Choice
	}
	return in.Text
}

// Choice is a selectable answer shown as a button.
type Choice struct {
	Label string
	Value string
}

// Prompt is what the user is asked at a step.
type Prompt struct {
	Text    string
	Choices []Choice
}

// Draft accumulates the fields collected so far.
type Draft map[string]any

func (d Draft) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d Draft) Int(key string) int {
	n, _ := d[key].(int)
	return n
}

func (d Draft) Int64(key string) int64 {
	n, _ := d[key].(int64)
	return n
}

func (d Draft) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

func (d Draft) Media(key string) *Media {
	m, _ := d[key].(*Media)
	return m
}

func (d Draft) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Step collects one field.
type Step struct {
	Field string
	// Prompt builds the question. It may consult the draft and the store.
	Prompt func(ctx context.Context, d Draft) (Prompt, error)
	// Accept validates in and records it in d. A *ValidationError re-prompts
	// the same step; any other error is a fault.
	Accept func(ctx context.Context, d Draft, in Input) error
	// Skip, if set, lets the step be bypassed based on earlier answers.
	Skip func(d Draft) bool
}

// Flow is a named sequence of steps ending in a commit.
type Flow struct {
	Name  string
	Steps []Step
	// Commit performs the single write for the flow and returns a
	// confirmation. A *ValidationError with Field set rewinds to that
	// step; any other error ends the session. A nil Commit finishes with
	// the draft for the caller to act on.
	Commit func(ctx context.Context, d Draft) (string, error)
}

// Reply tells the caller what to show next. Exactly one of Prompt or Done is
// meaningful: while the flow runs Prompt is set, optionally with Problem
// describing why the last input was rejected.
type Reply struct {
	Flow    string
	Prompt  Prompt
	Problem string
	Done    bool
	Message string
	Draft   Draft
}

type state struct {
	mu    sync.Mutex
	flow  *Flow
	step  int
	draft Draft
	// resume is set after a commit rewound to an earlier step. Until the
	// next commit, later steps whose field is already in the draft are
	// not asked again.
	resume bool
}

// Engine keeps the active session of every user.
type Engine struct {
	mu       sync.Mutex
	sessions map[int64]*state
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{sessions: make(map[int64]*state)}
}

// Begin starts flow for userID, replacing any session already in progress,
// and returns the first prompt. seed pre-fills the draft and may be nil.
func (e *Engine) Begin(ctx context.Context, userID int64, flow *Flow, seed Draft) (Reply, error) {
	draft := Draft{}
	for k, v := range seed {
		draft[k] = v
	}
	st := &state{flow: flow, step: -1, draft: draft}

	st.mu.Lock()
	defer st.mu.Unlock()

	e.mu.Lock()
	e.sessions[userID] = st
	e.mu.Unlock()

	return e.advance(ctx, userID, st)
}

// Handle feeds in to the user's active session.
func (e *Engine) Handle(ctx context.Context, userID int64, in Input) (Reply, error) {
	st := e.get(userID)
	if st == nil {
		return Reply{}, ErrNoSession
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !e.current(userID, st) {
		return Reply{}, ErrNoSession
	}

	step := st.flow.Steps[st.step]
	if err := step.Accept(ctx, st.draft, in); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return e.reprompt(ctx, st, verr.Message)
		}
		return Reply{}, fmt.Errorf("%s/%s: %w", st.flow.Name, step.Field, err)
	}

	return e.advance(ctx, userID, st)
}

// Cancel discards the user's session. It reports whether one was active.
func (e *Engine) Cancel(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[userID]
	delete(e.sessions, userID)
	return ok
}

// Active returns the name of the user's current flow, if any.
func (e *Engine) Active(userID int64) (string, bool) {
	st := e.get(userID)
	if st == nil {
		return "", false
	}
	return st.flow.Name, true
}

// Len returns the number of sessions in progress.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) get(userID int64) *state {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[userID]
}

func (e *Engine) current(userID int64, st *state) bool {
	return e.get(userID) == st
}

func (e *Engine) finish(userID int64, st *state) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[userID] == st {
		delete(e.sessions, userID)
	}
}

// advance moves past the current step to the next one that still needs an
// answer, committing when none remain. Called with st.mu held.
func (e *Engine) advance(ctx context.Context, userID int64, st *state) (Reply, error) {
	st.step++
	for st.step < len(st.flow.Steps) {
		if pending(st, st.flow.Steps[st.step]) {
			return e.reprompt(ctx, st, "")
		}
		st.step++
	}
	return e.commit(ctx, userID, st)
}

// pending reports whether step must be asked. After a rewind only steps
// whose field is missing from the draft are asked again.
func pending(st *state, step Step) bool {
	if step.Skip != nil && step.Skip(st.draft) {
		return false
	}
	return !st.resume || !st.draft.Has(step.Field)
}

func (e *Engine) commit(ctx context.Context, userID int64, st *state) (Reply, error) {
	// A cancel that raced with the last input wins.
	if !e.current(userID, st) {
		return Reply{}, ErrNoSession
	}

	done := Reply{Flow: st.flow.Name, Done: true, Draft: st.draft}
	if st.flow.Commit == nil {
		e.finish(userID, st)
		return done, nil
	}

	st.resume = false
	msg, err := st.flow.Commit(ctx, st.draft)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			if i := st.flow.index(verr.Field); i >= 0 {
				st.step = i
			} else {
				st.step = len(st.flow.Steps) - 1
			}
			if st.step >= 0 {
				st.resume = true
				return e.reprompt(ctx, st, verr.Message)
			}
		}
		e.finish(userID, st)
		return Reply{}, fmt.Errorf("%s: commit: %w", st.flow.Name, err)
	}

	e.finish(userID, st)
	done.Message = msg
	return done, nil
}

func (e *Engine) reprompt(ctx context.Context, st *state, problem string) (Reply, error) {
	step := st.flow.Steps[st.step]
	p, err := step.Prompt(ctx, st.draft)
	if err != nil {
		return Reply{}, fmt.Errorf("%s/%s: prompt: %w", st.flow.Name, step.Field, err)
	}
	return Reply{Flow: st.flow.Name, Prompt: p, Problem: problem}, nil
}

func (f *Flow) index(field string) int {
	if field == "" {
		return -1
	}
	for i, s := range f.Steps {
		if s.Field == field {
			return i
		}
	}
	return -1
}

// Static returns a Prompt func that always asks the same thing.
func Static(text string, choices ...Choice) func(context.Context, Draft) (Prompt, error) {
	p := Prompt{Text: text, Choices: choices}
	return func(context.Context, Draft) (Prompt, error) { return p, nil }
}

// ParseID parses a positive numeric identifier.
func ParseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, Invalid("%q is not a valid numeric id", s)
	}
	return id, nil
}
