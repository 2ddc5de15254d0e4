package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/replmux/internal/interp"
	"github.com/timvw/replmux/internal/model"
	"github.com/timvw/replmux/internal/session"
)

const racket = "/usr/bin/racket"

type fakeHandle struct {
	id, name string
	sent     []string
	shown    int
	sendErr  error
}

func (h *fakeHandle) ID() string   { return h.id }
func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) Send(ctx context.Context, text string) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, text)
	return nil
}
func (h *fakeHandle) Show(ctx context.Context) error { h.shown++; return nil }
func (h *fakeHandle) Alive(ctx context.Context) bool { return h.sendErr == nil }

type fakeBackend struct {
	opened  []session.Spec
	handles []*fakeHandle
	openErr error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(ctx context.Context, spec session.Spec) (session.Handle, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened = append(b.opened, spec)
	h := &fakeHandle{id: fmt.Sprintf("h%d", len(b.opened)), name: spec.Name}
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) Discover(ctx context.Context) ([]session.Discovered, error) { return nil, nil }

type fakeResolver struct{ err error }

func (r fakeResolver) Resolve(file string) (*interp.Resolved, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &interp.Resolved{Profile: interp.DefaultProfiles()[0], Interpreter: racket}, nil
}

type notices struct{ infos, errors []string }

func (n *notices) Info(ctx context.Context, msg string)  { n.infos = append(n.infos, msg) }
func (n *notices) Error(ctx context.Context, msg string) { n.errors = append(n.errors, msg) }

// manualScheduler holds jobs until the test runs them.
type manualScheduler struct {
	delays []time.Duration
	jobs   []func()
}

func (s *manualScheduler) After(d time.Duration, fn func()) {
	s.delays = append(s.delays, d)
	s.jobs = append(s.jobs, fn)
}

func (s *manualScheduler) runAll() {
	jobs := s.jobs
	s.jobs = nil
	for _, fn := range jobs {
		fn()
	}
}

type fixture struct {
	d       *Dispatcher
	backend *fakeBackend
	notes   *notices
	sched   *manualScheduler
	saved   []string
}

func newFixture() *fixture {
	f := &fixture{backend: &fakeBackend{}, notes: &notices{}, sched: &manualScheduler{}}
	f.d = &Dispatcher{
		Terminals:  session.NewRegistry(),
		REPLs:      session.NewRegistry(),
		Backend:    f.backend,
		Resolver:   fakeResolver{},
		Notifier:   f.notes,
		Scheduler:  f.sched,
		StartDelay: DefaultStartDelay,
		Saver: SaverFunc(func(ctx context.Context, document string) error {
			f.saved = append(f.saved, document)
			return nil
		}),
	}
	return f
}

func request(action model.Action, file string) model.Request {
	return model.Request{
		ID:     "req",
		Action: action,
		Editor: &model.Editor{Document: file},
		TS:     time.Now(),
	}
}

func TestRunInTerminal_PerFile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))

	require.Len(t, f.backend.opened, 1, "the same file reuses its terminal")
	spec := f.backend.opened[0]
	assert.Equal(t, "/src/a.rkt", spec.Key)
	assert.Equal(t, model.KindOutput, spec.Kind)
	assert.Equal(t, "Output (a.rkt)", spec.Name)
	assert.Equal(t, "/src", spec.Dir)

	want := "'" + racket + "' '/src/a.rkt'"
	assert.Equal(t, []string{want, want}, f.backend.handles[0].sent)
	assert.Equal(t, []string{"/src/a.rkt", "/src/a.rkt"}, f.saved)
	assert.Empty(t, f.notes.errors)
}

func TestRunInTerminal_DistinctFilesGetDistinctTerminals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/b.rkt")))

	assert.Len(t, f.backend.opened, 2)
	assert.Equal(t, []string{"/src/a.rkt", "/src/b.rkt"}, f.d.Terminals.Keys())
}

func TestRunInTerminal_SharedTerminal(t *testing.T) {
	f := newFixture()
	f.d.SharedOutputTerminal = true
	ctx := context.Background()

	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/b.rkt")))

	require.Len(t, f.backend.opened, 1)
	assert.Equal(t, session.SharedKey, f.backend.opened[0].Key)
	assert.Equal(t, "Output", f.backend.opened[0].Name)
	assert.Empty(t, f.backend.opened[0].Dir)
	assert.Equal(t, []string{session.SharedKey}, f.d.Terminals.Keys())
	assert.Len(t, f.backend.handles[0].sent, 2)
}

func TestRunInTerminal_FileWithoutOpenDocumentIsNotSaved(t *testing.T) {
	f := newFixture()
	req := model.Request{ID: "r", Action: model.ActionRunInTerminal, File: "/src/a.rkt", TS: time.Now()}

	require.NoError(t, f.d.RunInTerminal(context.Background(), req))
	assert.Empty(t, f.saved)
	assert.Len(t, f.backend.handles[0].sent, 1)
}

func TestMissingContextCreatesNothing(t *testing.T) {
	noFile := func(a model.Action) model.Request {
		return model.Request{ID: "r", Action: a, Editor: &model.Editor{Selection: "(+ 1 2)"}, TS: time.Now()}
	}
	tests := []struct {
		name     string
		req      model.Request
		resolver fakeResolver
		wantMsg  string
	}{
		{"run without file", noFile(model.ActionRunInTerminal), fakeResolver{}, MsgNoFile},
		{"load without file", noFile(model.ActionLoadInREPL), fakeResolver{}, MsgNoFile},
		{"exec without file", noFile(model.ActionExecuteSelection), fakeResolver{}, MsgNoFile},
		{"open without file", noFile(model.ActionOpenREPL), fakeResolver{}, MsgNoFile},
		{"show without file", noFile(model.ActionShowOutput), fakeResolver{}, MsgNoFile},
		{"exec without editor",
			model.Request{ID: "r", Action: model.ActionExecuteSelection, File: "/src/a.rkt", TS: time.Now()}, fakeResolver{}, MsgNoEditor},
		{"run without interpreter", request(model.ActionRunInTerminal, "/src/a.rkt"),
			fakeResolver{err: fmt.Errorf("racket not in PATH: %w", interp.ErrInterpreterNotFound)}, msgNoInterpreter},
		{"load without interpreter", request(model.ActionLoadInREPL, "/src/a.rkt"),
			fakeResolver{err: interp.ErrInterpreterNotFound}, msgNoInterpreter},
		{"open without interpreter", request(model.ActionOpenREPL, "/src/a.rkt"),
			fakeResolver{err: interp.ErrInterpreterNotFound}, msgNoInterpreter},
		{"exec without interpreter",
			model.Request{ID: "r", Action: model.ActionExecuteSelection, Editor: &model.Editor{Document: "/src/a.rkt", Selection: "(+ 1 2)"}, TS: time.Now()},
			fakeResolver{err: interp.ErrInterpreterNotFound}, msgNoInterpreter},
		{"exec with nothing selected on a blank line",
			model.Request{ID: "r", Action: model.ActionExecuteSelection, Editor: &model.Editor{Document: "/src/a.rkt", Selection: " ", Line: "\t"}, TS: time.Now()},
			fakeResolver{}, MsgNoCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.d.Resolver = tt.resolver

			err := f.d.Dispatch(context.Background(), tt.req)
			require.NoError(t, err, "missing context is reported to the user, not returned")

			require.Len(t, f.notes.errors, 1)
			assert.Contains(t, f.notes.errors[0], tt.wantMsg)
			assert.Empty(t, f.backend.opened)
			assert.Zero(t, f.d.Terminals.Len())
			assert.Zero(t, f.d.REPLs.Len())
			assert.Empty(t, f.sched.jobs)
			assert.Empty(t, f.saved)
		})
	}
}

func TestLoadInREPL_NewREPLDefersLoad(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt")))

	require.Len(t, f.backend.opened, 1)
	spec := f.backend.opened[0]
	assert.Equal(t, model.KindREPL, spec.Kind)
	assert.Equal(t, "REPL (a.rkt)", spec.Name)
	assert.Equal(t, "'"+racket+"' -i", spec.Command)
	assert.Equal(t, []string{"/src/a.rkt"}, f.saved)

	repl := f.backend.handles[0]
	assert.Empty(t, repl.sent, "nothing is typed before the start delay")
	assert.Equal(t, []string{"Started REPL (a.rkt)"}, f.notes.infos)
	require.Len(t, f.sched.jobs, 1)
	assert.Equal(t, DefaultStartDelay, f.sched.delays[0])

	f.sched.runAll()
	assert.Equal(t, []string{`(enter! (file "/src/a.rkt"))`}, repl.sent)
}

func TestLoadInREPL_ExistingREPLSendsImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt")))
	f.sched.runAll()
	require.NoError(t, f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt")))

	assert.Len(t, f.backend.opened, 1)
	assert.Len(t, f.notes.infos, 1, "reusing a REPL is silent")
	assert.Empty(t, f.sched.jobs, "an existing REPL gets no delayed send")
	assert.Len(t, f.backend.handles[0].sent, 2)
	assert.Len(t, f.saved, 2)
}

func TestExecuteSelection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := func(sel, line string) model.Request {
		return model.Request{
			ID:     "r",
			Action: model.ActionExecuteSelection,
			Editor: &model.Editor{Document: "/src/a.rkt", Selection: sel, Line: line},
			TS:     time.Now(),
		}
	}

	require.NoError(t, f.d.ExecuteSelection(ctx, req("(define x 1)", "")))
	repl := f.backend.handles[0]
	assert.Empty(t, repl.sent)
	f.sched.runAll()
	assert.Equal(t, []string{"(define x 1)"}, repl.sent)

	require.NoError(t, f.d.ExecuteSelection(ctx, req("", "(displayln x)")))
	assert.Equal(t, []string{"(define x 1)", "(displayln x)"}, repl.sent, "an empty selection sends the current line")
	assert.Empty(t, f.sched.jobs)
	assert.Len(t, f.backend.opened, 1)
	assert.Empty(t, f.saved, "executing a selection does not save")
}

func TestExecuteSelection_SharesREPLWithLoad(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt")))
	exec := request(model.ActionExecuteSelection, "/src/a.rkt")
	exec.Editor.Selection = "x"
	require.NoError(t, f.d.ExecuteSelection(ctx, exec))

	assert.Len(t, f.backend.opened, 1)
	assert.Equal(t, []string{"x"}, f.backend.handles[0].sent, "the REPL already existed, so the selection goes out now")

	f.sched.runAll()
	assert.Equal(t, []string{"x", `(enter! (file "/src/a.rkt"))`}, f.backend.handles[0].sent)
}

func TestOpenREPL(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.OpenREPL(ctx, request(model.ActionOpenREPL, "/src/a.rkt")))
	require.NoError(t, f.d.OpenREPL(ctx, request(model.ActionOpenREPL, "/src/a.rkt")))

	require.Len(t, f.backend.opened, 1)
	assert.Equal(t, 2, f.backend.handles[0].shown)
	assert.Empty(t, f.backend.handles[0].sent)
	assert.Empty(t, f.sched.jobs)
}

func TestShowOutput(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.d.ShowOutput(ctx, request(model.ActionShowOutput, "/src/a.rkt")))
	assert.Equal(t, []string{MsgNoOutput}, f.notes.errors)
	assert.Empty(t, f.backend.opened, "show-output never creates a terminal")

	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
	require.NoError(t, f.d.ShowOutput(ctx, request(model.ActionShowOutput, "/src/a.rkt")))
	assert.Equal(t, 1, f.backend.handles[0].shown)
	assert.Len(t, f.notes.errors, 1)
}

func TestShowOutput_DoesNotNeedInterpreter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))

	f.d.Resolver = fakeResolver{err: interp.ErrInterpreterNotFound}
	require.NoError(t, f.d.ShowOutput(ctx, request(model.ActionShowOutput, "/src/a.rkt")))

	assert.Equal(t, 1, f.backend.handles[0].shown)
	assert.Empty(t, f.notes.errors)
}

func TestShowOutput_SharedModeLooksUpByFile(t *testing.T) {
	f := newFixture()
	f.d.SharedOutputTerminal = true
	ctx := context.Background()

	require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
	require.NoError(t, f.d.ShowOutput(ctx, request(model.ActionShowOutput, "/src/a.rkt")))

	assert.Equal(t, []string{MsgNoOutput}, f.notes.errors)
	assert.Zero(t, f.backend.handles[0].shown)
}

func TestErrorsPropagate(t *testing.T) {
	ctx := context.Background()

	t.Run("open", func(t *testing.T) {
		f := newFixture()
		f.backend.openErr = errors.New("no server running")
		err := f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt"))
		assert.ErrorIs(t, err, f.backend.openErr)
		assert.Zero(t, f.d.Terminals.Len())
	})

	t.Run("save", func(t *testing.T) {
		f := newFixture()
		boom := errors.New("read-only")
		f.d.Saver = SaverFunc(func(context.Context, string) error { return boom })
		err := f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt"))
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, f.sched.jobs, "nothing is scheduled when saving fails")
	})

	t.Run("send to closed terminal", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt")))
		closed := errors.New("window closed")
		f.backend.handles[0].sendErr = closed

		err := f.d.RunInTerminal(ctx, request(model.ActionRunInTerminal, "/src/a.rkt"))
		assert.ErrorIs(t, err, closed)
		assert.Len(t, f.backend.opened, 1, "closed handles are not replaced")
	})
}

func TestDeferredSendUsesHandleFromSchedulingTime(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.d.LoadInREPL(ctx, request(model.ActionLoadInREPL, "/src/a.rkt")))
	cancel()
	first := f.backend.handles[0]

	// Swap the registry entry behind the dispatcher's back.
	f.d.REPLs = session.NewRegistry()
	f.sched.runAll()

	assert.Len(t, first.sent, 1, "the delayed send survives request cancellation and targets the original handle")
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture()
	err := f.d.Dispatch(context.Background(), model.Request{ID: "r", Action: "reboot", TS: time.Now()})
	assert.ErrorContains(t, err, `unknown action "reboot"`)
}

func TestDispatch_Routes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, a := range []model.Action{model.ActionRunInTerminal, model.ActionLoadInREPL, model.ActionOpenREPL, model.ActionShowOutput} {
		require.NoError(t, f.d.Dispatch(ctx, request(a, "/src/a.rkt")))
	}
	assert.Equal(t, []string{"/src/a.rkt"}, f.d.Terminals.Keys())
	assert.Equal(t, []string{"/src/a.rkt"}, f.d.REPLs.Keys())
	assert.Empty(t, f.notes.errors)
}

func TestSerialScheduler_RunsInArrivalOrderAfterDelay(t *testing.T) {
	s := NewSerialScheduler()
	defer s.Close()

	var mu sync.Mutex
	var order []int
	start := time.Now()
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}

	s.After(30*time.Millisecond, record(1))
	s.After(0, record(2))
	s.After(10*time.Millisecond, record(3))
	s.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSerialScheduler_AfterClose(t *testing.T) {
	s := NewSerialScheduler()
	s.Close()
	s.Close()

	ran := false
	s.After(time.Hour, func() { ran = true })
	assert.True(t, ran, "after Close jobs run inline")
}
