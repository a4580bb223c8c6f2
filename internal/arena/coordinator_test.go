package arena

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/codeclash/internal/protocol"
)

// coordFixture runs a live coordinator loop against fake collaborators.
type coordFixture struct {
	coord   *Coordinator
	clock   *clockwork.FakeClock
	harness *fakeHarness
	cancel  context.CancelFunc
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		clock:   clockwork.NewFakeClock(),
		harness: &fakeHarness{verdict: passVerdict()},
	}
	f.coord = NewCoordinator(
		Config{RoundDuration: 20 * time.Minute},
		&fakeSource{prob: testProblem()},
		f.harness,
		f.clock,
	)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go f.coord.Run(ctx)
	return f
}

// barrier waits for every previously enqueued op to be dispatched.
func (f *coordFixture) barrier(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok := f.coord.ActiveRooms(ctx); !ok {
		t.Fatal("coordinator loop is not responding")
	}
}

func (f *coordFixture) snapshot(t *testing.T, roomCode string) (*protocol.RoomStatePayload, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.coord.Snapshot(ctx, roomCode)
}

// joinRoom joins a fresh session and returns its sink and assigned player id.
func (f *coordFixture) joinRoom(t *testing.T, sessionID, name, roomCode string) (*fakeSink, string) {
	t.Helper()
	sink := newFakeSink(sessionID)
	f.coord.Join(sink, protocol.JoinPayload{
		RoomCode:    roomCode,
		DisplayName: name,
		Difficulty:  "easy",
		Topic:       "arrays",
	})
	f.barrier(t)
	return sink, selfID(t, sink)
}

// selfID finds the player id the coordinator tagged onto the joiner's first
// room-state copy.
func selfID(t *testing.T, sink *fakeSink) string {
	t.Helper()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, m := range sink.msgs {
		if m.Type != protocol.KindRoomState {
			continue
		}
		var st protocol.RoomStatePayload
		if err := json.Unmarshal(m.Data, &st); err != nil {
			t.Fatalf("failed to decode room state: %v", err)
		}
		if st.SelfID != "" {
			return st.SelfID
		}
	}
	t.Fatal("no tagged room state received")
	return ""
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinatorFullMatchLifecycle(t *testing.T) {
	f := newCoordFixture(t)

	sinks := make([]*fakeSink, 0, 4)
	for i, name := range []string{"ada", "grace", "linus", "ken"} {
		sink, id := f.joinRoom(t, "session-"+name, name, "ABCD")
		if id == "" {
			t.Fatalf("joiner %d received no identity", i)
		}
		sinks = append(sinks, sink)
	}

	st, ok := f.snapshot(t, "ABCD")
	if !ok {
		t.Fatal("expected room ABCD to exist")
	}
	if len(st.Players) != 4 || st.Started {
		t.Fatalf("expected 4 lobby players, got %d started=%v", len(st.Players), st.Started)
	}

	// A fifth session bounces off the full room.
	fifth := newFakeSink("session-fifth")
	f.coord.Join(fifth, protocol.JoinPayload{RoomCode: "ABCD", DisplayName: "rob"})
	f.barrier(t)
	var ep protocol.ErrorPayload
	if !fifth.last(t, protocol.KindError, &ep) || ep.Message != "room is full" {
		t.Fatalf("expected room-is-full error, got %+v", ep)
	}

	// A joined session cannot join again.
	f.coord.Join(sinks[0], protocol.JoinPayload{RoomCode: "WXYZ", DisplayName: "ada"})
	f.barrier(t)
	if !sinks[0].last(t, protocol.KindError, &ep) || ep.Message != "already in a room" {
		t.Fatalf("expected already-in-a-room error, got %+v", ep)
	}

	// All four ready up and the round starts.
	for _, sink := range sinks {
		f.coord.SetReady(sink, true)
	}
	f.barrier(t)
	st, _ = f.snapshot(t, "ABCD")
	if !st.Started {
		t.Fatal("expected round to start")
	}
	var rs protocol.RoundStartPayload
	if !sinks[3].last(t, protocol.KindRoundStart, &rs) {
		t.Fatal("expected round-start broadcast")
	}
	if rs.Problem.ID != "sum-indices" {
		t.Errorf("expected sum-indices, got %q", rs.Problem.ID)
	}
	wantDeadline := f.clock.Now().Add(20 * time.Minute)
	if !rs.Deadline.Equal(wantDeadline) {
		t.Errorf("expected deadline %s, got %s", wantDeadline, rs.Deadline)
	}

	// grace (team B) submits the winning solution.
	f.coord.Submit(sinks[1], "solution")
	waitFor(t, func() bool {
		return sinks[0].count(protocol.KindRoundEnd) > 0
	}, "timed out waiting for the round to conclude")

	var re protocol.RoundEndPayload
	if !sinks[0].last(t, protocol.KindRoundEnd, &re) {
		t.Fatal("expected round-end broadcast")
	}
	if re.Winner != string(TeamB) {
		t.Errorf("expected winner B, got %q", re.Winner)
	}

	// Rematch returns the room to the lobby.
	f.coord.Rematch(sinks[0])
	f.barrier(t)
	st, _ = f.snapshot(t, "ABCD")
	if st.Started || st.Winner != "" {
		t.Errorf("expected clean lobby after rematch, got started=%v winner=%q", st.Started, st.Winner)
	}

	// Everyone leaves and the room is discarded.
	for _, sink := range sinks {
		f.coord.Leave(sink)
	}
	f.barrier(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rooms, ok := f.coord.ActiveRooms(ctx)
	if !ok || len(rooms) != 0 {
		t.Errorf("expected no active rooms, got %v", rooms)
	}
}

func TestCoordinatorRejectsEmptyRoomCode(t *testing.T) {
	f := newCoordFixture(t)

	sink := newFakeSink("session-1")
	f.coord.Join(sink, protocol.JoinPayload{RoomCode: "   ", DisplayName: "ada"})
	f.barrier(t)

	var ep protocol.ErrorPayload
	if !sink.last(t, protocol.KindError, &ep) || ep.Message != "room code is required" {
		t.Fatalf("expected room-code-required error, got %+v", ep)
	}
}

func TestCoordinatorDefaultsDisplayName(t *testing.T) {
	f := newCoordFixture(t)

	sink := newFakeSink("session-1")
	f.coord.Join(sink, protocol.JoinPayload{RoomCode: "ABCD", DisplayName: "  "})
	f.barrier(t)

	st, ok := f.snapshot(t, "ABCD")
	if !ok || len(st.Players) != 1 {
		t.Fatal("expected one player in the room")
	}
	if st.Players[0].Name != "anonymous" {
		t.Errorf("expected anonymous, got %q", st.Players[0].Name)
	}
}

func TestCoordinatorIgnoresMessagesFromUnjoinedSessions(t *testing.T) {
	f := newCoordFixture(t)

	stray := newFakeSink("session-stray")
	f.coord.SetReady(stray, true)
	f.coord.Chat(stray, "hello")
	f.coord.Submit(stray, "code")
	f.coord.Rematch(stray)
	f.coord.Leave(stray)
	f.barrier(t)

	stray.mu.Lock()
	defer stray.mu.Unlock()
	if len(stray.msgs) != 0 {
		t.Errorf("expected silence for unjoined session, got %d messages", len(stray.msgs))
	}
}

func TestCoordinatorActiveRoomsSummaries(t *testing.T) {
	f := newCoordFixture(t)

	f.joinRoom(t, "session-1", "ada", "AAAA")
	f.joinRoom(t, "session-2", "grace", "BBBB")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rooms, ok := f.coord.ActiveRooms(ctx)
	if !ok || len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %v", rooms)
	}
	for _, r := range rooms {
		if r.Players != 1 || r.Started {
			t.Errorf("room %s: expected one lobby player, got %+v", r.RoomCode, r)
		}
		if r.Difficulty != "easy" || r.Topic != "arrays" {
			t.Errorf("room %s: unexpected category %s/%s", r.RoomCode, r.Difficulty, r.Topic)
		}
	}
}

// Advancing the clock drives the round end to end through the real tick
// wiring: timer-syncs while Active, timeout conclusion, then silence.
func TestCoordinatorTimerLifecycle(t *testing.T) {
	f := newCoordFixture(t)

	sinks := make([]*fakeSink, 0, 4)
	for _, name := range []string{"ada", "grace", "linus", "ken"} {
		sink, _ := f.joinRoom(t, "session-"+name, name, "TIME")
		sinks = append(sinks, sink)
	}
	for _, sink := range sinks {
		f.coord.SetReady(sink, true)
	}
	f.barrier(t)
	st, _ := f.snapshot(t, "TIME")
	if !st.Started {
		t.Fatal("expected round to start")
	}

	f.clock.Advance(time.Second)
	waitFor(t, func() bool {
		return sinks[0].count(protocol.KindTimerSync) > 0
	}, "no timer-sync delivered after one second")

	f.clock.Advance(20 * time.Minute)
	waitFor(t, func() bool {
		return sinks[0].count(protocol.KindRoundEnd) > 0
	}, "round never timed out")

	st, _ = f.snapshot(t, "TIME")
	if st.Started || st.Winner != WinnerNone {
		t.Errorf("expected timed-out round with no winner, got started=%v winner=%q", st.Started, st.Winner)
	}

	// Further clock movement after conclusion must produce no more syncs.
	syncs := sinks[0].count(protocol.KindTimerSync)
	f.clock.Advance(3 * time.Second)
	time.Sleep(100 * time.Millisecond)
	f.barrier(t)
	if got := sinks[0].count(protocol.KindTimerSync); got != syncs {
		t.Errorf("timer-sync continued after round-end: %d then %d", syncs, got)
	}
	if got := sinks[0].count(protocol.KindRoundEnd); got != 1 {
		t.Errorf("expected exactly one round-end, got %d", got)
	}
}

// Ops for a room queue while its judgement is in flight; other rooms keep
// responding in the meantime.
func TestCoordinatorGatesRoomDuringJudging(t *testing.T) {
	f := newCoordFixture(t)
	f.harness.delay = 500 * time.Millisecond

	sinks := make([]*fakeSink, 0, 4)
	for _, name := range []string{"ada", "grace", "linus", "ken"} {
		sink, _ := f.joinRoom(t, "session-"+name, name, "GATE")
		sinks = append(sinks, sink)
	}
	other, _ := f.joinRoom(t, "session-other", "rob", "LIVE")

	for _, sink := range sinks {
		f.coord.SetReady(sink, true)
	}
	f.barrier(t)

	f.coord.Submit(sinks[0], "solution")
	f.barrier(t)
	f.coord.Chat(sinks[1], "is it done yet")
	f.coord.Chat(other, "different room")
	f.barrier(t)

	// The untouched room answers while GATE's judgement is still running.
	waitFor(t, func() bool {
		return other.count(protocol.KindChatBroadcast) > 0
	}, "live room was starved by another room's judging")
	if sinks[1].count(protocol.KindChatBroadcast) > 0 {
		t.Fatal("gated room's chat leaked ahead of the verdict")
	}

	// Once the verdict lands the queued chat drains, after the result.
	waitFor(t, func() bool {
		return sinks[1].count(protocol.KindChatBroadcast) > 0
	}, "queued op never drained after judging")

	sinks[1].mu.Lock()
	defer sinks[1].mu.Unlock()
	resultAt, chatAt := -1, -1
	for i, m := range sinks[1].msgs {
		switch m.Type {
		case protocol.KindSubmissionResult:
			if resultAt == -1 {
				resultAt = i
			}
		case protocol.KindChatBroadcast:
			if chatAt == -1 {
				chatAt = i
			}
		}
	}
	if resultAt == -1 || chatAt == -1 || chatAt < resultAt {
		t.Errorf("expected verdict before queued chat, got result=%d chat=%d", resultAt, chatAt)
	}
}
