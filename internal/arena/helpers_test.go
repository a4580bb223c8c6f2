package arena

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/codeclash/internal/judge"
	"github.com/mcdev12/codeclash/internal/problem"
	"github.com/mcdev12/codeclash/internal/protocol"
)

// fakeSink records everything sent to a session.
type fakeSink struct {
	id string

	mu   sync.Mutex
	msgs []*protocol.Envelope
}

func newFakeSink(id string) *fakeSink {
	return &fakeSink{id: id}
}

func (f *fakeSink) SessionID() string { return f.id }

func (f *fakeSink) Send(env *protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, env)
}

func (f *fakeSink) count(kind protocol.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.Type == kind {
			n++
		}
	}
	return n
}

// last decodes the most recent message of the given kind into dst and
// reports whether one existed.
func (f *fakeSink) last(t *testing.T, kind protocol.Kind, dst any) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Type != kind {
			continue
		}
		if err := json.Unmarshal(f.msgs[i].Data, dst); err != nil {
			t.Fatalf("failed to decode %s payload: %v", kind, err)
		}
		return true
	}
	return false
}

// fakeSource serves a fixed problem, or a category-empty error.
type fakeSource struct {
	prob *problem.Problem
	err  error
}

func (f *fakeSource) GetRandom(difficulty, topic string) (*problem.Problem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prob, nil
}

// fakeHarness returns a scripted verdict after an optional delay.
type fakeHarness struct {
	verdict judge.Verdict
	delay   time.Duration
}

func (f *fakeHarness) Evaluate(code string, p *problem.Problem) judge.Verdict {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.verdict
}

func passVerdict() judge.Verdict {
	return judge.Verdict{Status: judge.StatusPassed}
}

func wrongAnswerVerdict() judge.Verdict {
	return judge.Verdict{Status: judge.StatusWrongAnswer, Message: "wrong answer on test 1"}
}

func testProblem() *problem.Problem {
	return &problem.Problem{
		ID:           "sum-indices",
		Title:        "Sum of Two Indices",
		Difficulty:   "easy",
		Topic:        "arrays",
		FunctionName: "sumIndices",
		StarterCode:  "function sumIndices(nums, target)\nend\n",
		Tests: []problem.TestVector{
			{Args: []any{[]any{2, 7}, 9}, Expected: []any{0, 1}},
		},
	}
}

// matchFixture is a Match wired to fakes, with resolve callbacks captured
// so tests apply verdicts deterministically on their own goroutine.
type matchFixture struct {
	match    *Match
	clock    *clockwork.FakeClock
	source   *fakeSource
	harness  *fakeHarness
	resolved chan func()
	sinks    map[string]*fakeSink // player id -> sink
}

func newMatchFixture(t *testing.T) *matchFixture {
	t.Helper()
	f := &matchFixture{
		clock:    clockwork.NewFakeClock(),
		source:   &fakeSource{prob: testProblem()},
		harness:  &fakeHarness{verdict: passVerdict()},
		resolved: make(chan func(), 8),
		sinks:    make(map[string]*fakeSink),
	}
	f.match = NewMatch("ABCD", "easy", "arrays", Deps{
		Source:        f.source,
		Harness:       f.harness,
		Clock:         f.clock,
		RoundDuration: 20 * time.Minute,
		Post:          func(fn func()) {}, // ticks are driven directly in tests
		Resolve:       func(fn func()) { f.resolved <- fn },
	})
	return f
}

func (f *matchFixture) join(t *testing.T, name string) *Player {
	t.Helper()
	sink := newFakeSink("session-" + name)
	p, err := f.match.AddPlayer(name, sink)
	if err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	f.sinks[p.ID] = sink
	return p
}

func (f *matchFixture) joinFour(t *testing.T) []*Player {
	t.Helper()
	players := make([]*Player, 0, 4)
	for _, name := range []string{"ada", "grace", "linus", "ken"} {
		players = append(players, f.join(t, name))
	}
	return players
}

func (f *matchFixture) startRound(t *testing.T) []*Player {
	t.Helper()
	players := f.joinFour(t)
	for _, p := range players {
		f.match.SetReady(p.ID, true)
	}
	if !f.match.Started() {
		t.Fatal("expected round to start")
	}
	return players
}

// applyVerdict waits for the in-flight judgement and applies it.
func (f *matchFixture) applyVerdict(t *testing.T) {
	t.Helper()
	select {
	case fn := <-f.resolved:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for judging to resolve")
	}
}

var errNoProblems = errors.New("no problems available for difficulty \"easy\" and topic \"graphs\"")
