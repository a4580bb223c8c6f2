package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/mcdev12/codeclash/internal/problem"
)

// Status classifies an evaluation outcome.
type Status string

const (
	StatusPassed           Status = "passed"
	StatusCompileError     Status = "compile_error"
	StatusRuntimeError     Status = "runtime_error"
	StatusWrongAnswer      Status = "wrong_answer"
	StatusFunctionNotFound Status = "function_not_found"
)

// Verdict is the result of judging one submission.
type Verdict struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Passed reports whether every test vector passed.
func (v Verdict) Passed() bool {
	return v.Status == StatusPassed
}

// Config holds tunables for the runner.
type Config struct {
	// TestTimeout bounds each call into the submission, including the
	// initial chunk load. Busy-looping code is interrupted at this bound.
	TestTimeout time.Duration
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{TestTimeout: time.Second}
}

// Runner judges submissions inside an embedded Lua interpreter. Every
// Evaluate call builds a fresh state with a restricted global surface:
// no file loading, no host I/O, no os/io libraries, no RNG.
type Runner struct {
	cfg Config
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultConfig().TestTimeout
	}
	return &Runner{cfg: cfg}
}

// Evaluate runs code against the problem's test vectors, in order, and
// stops at the first failure. The runner keeps no state across calls.
func (r *Runner) Evaluate(code string, p *problem.Problem) Verdict {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if err := openSandboxLibs(L); err != nil {
		log.Error().Err(err).Msg("sandbox initialization failed")
		return Verdict{Status: StatusRuntimeError, Message: "internal judging error"}
	}

	fn, err := L.LoadString(code)
	if err != nil {
		return Verdict{Status: StatusCompileError, Message: "compile error: " + err.Error()}
	}

	// Run the chunk to bind the submission's globals, under the same
	// per-call budget as each test.
	L.Push(fn)
	if err, timedOut := r.boundedRun(L, func() error {
		return L.PCall(0, 0, nil)
	}); err != nil {
		if timedOut {
			return Verdict{Status: StatusRuntimeError, Message: "time limit exceeded while loading submission"}
		}
		return Verdict{Status: StatusRuntimeError, Message: "runtime error: " + err.Error()}
	}

	target, ok := L.GetGlobal(p.FunctionName).(*lua.LFunction)
	if !ok {
		return Verdict{
			Status:  StatusFunctionNotFound,
			Message: fmt.Sprintf("function %q not found", p.FunctionName),
		}
	}

	for i, tv := range p.Tests {
		verdict, done := r.runTest(L, target, tv, i+1)
		if done {
			return verdict
		}
	}
	return Verdict{Status: StatusPassed}
}

// runTest judges a single vector. done is false only when the test passed.
func (r *Runner) runTest(L *lua.LState, fn *lua.LFunction, tv problem.TestVector, n int) (Verdict, bool) {
	args := make([]lua.LValue, 0, len(tv.Args))
	for _, a := range tv.Args {
		lv, err := toLua(L, a)
		if err != nil {
			log.Error().Err(err).Int("test", n).Msg("bad test vector argument")
			return Verdict{Status: StatusRuntimeError, Message: "internal judging error"}, true
		}
		args = append(args, lv)
	}

	err, timedOut := r.boundedRun(L, func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		if timedOut {
			return Verdict{
				Status:  StatusRuntimeError,
				Message: fmt.Sprintf("time limit exceeded on test %d", n),
			}, true
		}
		return Verdict{
			Status:  StatusRuntimeError,
			Message: fmt.Sprintf("runtime error on test %d: %v", n, err),
		}, true
	}

	ret := L.Get(-1)
	L.Pop(1)

	got, err := fromLua(ret, 0)
	if err != nil {
		return Verdict{
			Status:  StatusRuntimeError,
			Message: fmt.Sprintf("runtime error on test %d: %v", n, err),
		}, true
	}

	wrong := Verdict{Status: StatusWrongAnswer, Message: fmt.Sprintf("wrong answer on test %d", n)}

	gotCanon, err := Encode(got)
	if err != nil {
		// No canonical form means it cannot equal anything.
		return wrong, true
	}
	wantCanon, err := Encode(tv.Expected)
	if err != nil {
		log.Error().Err(err).Int("test", n).Msg("expected value has no canonical form")
		return Verdict{Status: StatusRuntimeError, Message: "internal judging error"}, true
	}
	if gotCanon != wantCanon {
		return wrong, true
	}
	return Verdict{}, false
}

// boundedRun executes fn under the per-call wall-clock budget. The Lua VM
// checks the context between instructions, so busy loops are interrupted.
func (r *Runner) boundedRun(L *lua.LState, fn func() error) (err error, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TestTimeout)
	defer cancel()

	L.SetContext(ctx)
	err = fn()
	L.RemoveContext()

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err, true
	}
	return err, false
}

// openSandboxLibs opens only pure libraries and then removes every escape
// hatch to the host: no file loading, no module system, no stdout, no RNG.
func openSandboxLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %s library: %w", lib.name, err)
		}
	}

	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring",
		"require", "package", "print", "collectgarbage",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	if mathTbl, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		mathTbl.RawSetString("random", lua.LNil)
		mathTbl.RawSetString("randomseed", lua.LNil)
	}
	return nil
}
