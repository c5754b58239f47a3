package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/globalplanner"
	"github.com/fieldguide/guidance/internal/kinematic"
	"github.com/fieldguide/guidance/internal/plan"
	"github.com/fieldguide/guidance/internal/posefeed"
)

type memJournal struct {
	mu      sync.Mutex
	runs    []uint32
	status  []string
	failing bool
}

func (j *memJournal) Record(_ context.Context, p *plan.Plan, status, _ string, _ time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return "", errors.New("disk full")
	}
	j.runs = append(j.runs, p.RunNumber())
	j.status = append(j.status, status)
	return "id", nil
}

func (j *memJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.runs)
}

func mustParse(t *testing.T, lines ...string) []posefeed.Event {
	t.Helper()
	out := make([]posefeed.Event, 0, len(lines))
	for _, l := range lines {
		ev, err := posefeed.ParseLine(l)
		require.NoError(t, err, l)
		out = append(out, ev)
	}
	return out
}

// abScript marks a 10 m implement, A at the origin and B at (100,0).
func abScript(t *testing.T) []posefeed.Event {
	return mustParse(t,
		"!EDGE L 0 5 0",
		"!EDGE R 0 -5 0",
		"0,0,0,1,0,0,0",
		"!A",
		"100,0,0,1,0,0,0",
		"!B",
	)
}

// parkPose puts the vehicle at (50,9), nearest the pass at y=10.
func parkPose(t *testing.T) posefeed.Event {
	return mustParse(t, "50,9,0,1,0,0,0")[0]
}

func startEngine(t *testing.T, e *Engine, events <-chan posefeed.Event) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errc <- e.Run(ctx, events)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, errc
}

// driveToAB sends the AB script, waits for the plan and then parks the
// vehicle, so the active pass is selected from the published plan.
func driveToAB(t *testing.T, e *Engine, events chan<- posefeed.Event) {
	t.Helper()
	for _, ev := range abScript(t) {
		events <- ev
	}
	waitFor(t, e, func(s Snapshot) bool { return s.Plan.Len() == 9 })
	events <- parkPose(t)
}

func feed(events []posefeed.Event) <-chan posefeed.Event {
	ch := make(chan posefeed.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func waitFor(t *testing.T, e *Engine, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(e.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
	return e.Snapshot()
}

func activeY(t *testing.T, p *plan.Plan) float64 {
	t.Helper()
	require.Equal(t, 1, p.Len())
	l, ok := p.At(0).Line()
	require.True(t, ok)
	return l.P.Y
}

func TestEngineBuildsPlanAndTracksNearestPass(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{0, 2} {
		e := New(Options{
			Kinematic:  &kinematic.FixedKinematic{},
			Planner:    globalplanner.DefaultConfig(),
			Workers:    workers,
			QueueDepth: 4,
		})
		events := make(chan posefeed.Event)
		startEngine(t, e, events)
		driveToAB(t, e, events)

		s := waitFor(t, e, func(s Snapshot) bool { return s.PoseCount == 3 })
		assert.True(t, s.HasAB, "workers=%d", workers)
		assert.Equal(t, globalplanner.StateHasAB, s.State)
		assert.Equal(t, globalplanner.StatusOK, s.Report.Status)
		assert.InDelta(t, 10, s.ImplementWidth, 1e-9)
		assert.Equal(t, geom.Point3{X: 50, Y: 9}, s.Poses.Tow.Position)

		s = waitFor(t, e, func(s Snapshot) bool { return s.Active.Len() == 1 })
		assert.InDelta(t, 10, activeY(t, s.Active), 1e-9, "workers=%d", workers)
		assert.Equal(t, s.Plan.RunNumber(), s.Active.RunNumber())
	}
}

func TestEngineFollowsSimulatedDrive(t *testing.T) {
	t.Parallel()

	const width = 6.0
	cfg := config.EmptyGuidanceConfig()
	opts := OptionsFromGuidance(cfg)
	opts.Workers = 0
	e := New(opts)

	script := posefeed.DriveScript(width, 100, 6, cfg.GetStartRight() != cfg.GetMirror())
	marked := false
	checked := 0
	for _, line := range script {
		ev, err := posefeed.ParseLine(line)
		require.NoError(t, err, line)
		e.handle(ev)

		if ev.Kind == posefeed.EventCommand && ev.Command.Op == posefeed.OpMarkB {
			marked = true
			require.Equal(t, 9, e.planner.Plan().Len())
			continue
		}
		if !marked || ev.Kind != posefeed.EventPose {
			continue
		}

		active := e.selector.Active()
		require.Equal(t, 1, active.Len(), line)
		prim := active.At(0)
		want := int32(math.Round(ev.Pose.Position.Y / width))
		require.Equal(t, want, prim.PassNumber, line)
		heading := geom.FromPolar(1, ev.Pose.Orientation.Heading())
		require.Greater(t, r2.Dot(prim.Direction(), heading), 0.0, line)
		checked++
	}
	assert.Equal(t, 6*101, checked)
}

func TestEngineIgnoresBareLocalOffsetPoses(t *testing.T) {
	t.Parallel()

	e := New(Options{Kinematic: &kinematic.FixedKinematic{}, Planner: globalplanner.DefaultConfig()})
	startEngine(t, e, feed(mustParse(t, "1,2,0,1,0,0,0", "9,9,0,1,0,0,0,1")))

	s := waitFor(t, e, func(s Snapshot) bool { return s.PoseCount == 1 })
	assert.Equal(t, geom.Point3{X: 1, Y: 2}, s.Poses.Tow.Position)
}

func TestEngineEnqueueAppliesCommands(t *testing.T) {
	t.Parallel()

	e := New(Options{Kinematic: &kinematic.FixedKinematic{}, Planner: globalplanner.DefaultConfig()})
	events := make(chan posefeed.Event)
	startEngine(t, e, events)

	ctx := context.Background()
	for _, ev := range append(abScript(t), parkPose(t)) {
		require.NoError(t, e.Enqueue(ctx, ev))
	}
	waitFor(t, e, func(s Snapshot) bool { return s.Plan.Len() == 9 })

	require.NoError(t, e.Enqueue(ctx, posefeed.Event{
		Kind:    posefeed.EventCommand,
		Command: posefeed.Command{Op: posefeed.OpPlannerSettings, PathsToGenerate: 1, PathsInReserve: 0},
	}))
	s := waitFor(t, e, func(s Snapshot) bool { return s.Plan.Len() == 2 })
	assert.Equal(t, s.RunNumber, s.Plan.RunNumber())

	require.NoError(t, e.Enqueue(ctx, posefeed.Event{Kind: posefeed.EventCommand, Command: posefeed.Command{Op: posefeed.OpMarkA}}))
	s = waitFor(t, e, func(s Snapshot) bool { return s.State == globalplanner.StateHasA })
	assert.False(t, s.HasAB)
}

func TestEngineEnqueueHonoursContext(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Without Run nothing drains the queue, so fill it first.
	for i := 0; i < actionBuffer; i++ {
		require.NoError(t, e.Enqueue(context.Background(), posefeed.Event{}))
	}
	assert.ErrorIs(t, e.Enqueue(ctx, posefeed.Event{}), context.Canceled)
}

func TestEngineSubscriptions(t *testing.T) {
	t.Parallel()

	e := New(Options{Kinematic: &kinematic.FixedKinematic{}, Planner: globalplanner.DefaultConfig()})
	planID, plans := e.SubscribePlan()
	_, active := e.SubscribeActive()
	events := make(chan posefeed.Event)
	cancel, errc := startEngine(t, e, events)

	for _, ev := range append(abScript(t), parkPose(t)) {
		events <- ev
	}

	select {
	case p := <-plans:
		assert.Equal(t, 9, p.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("no plan published")
	}

	var last *plan.Plan
	require.Eventually(t, func() bool {
		select {
		case p := <-active:
			last = p
		default:
		}
		return last != nil && last.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	e.UnsubscribePlan(planID)
	_, ok := <-plans
	assert.False(t, ok)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	for range active {
	}
}

func TestEngineJournalsPublishedPlans(t *testing.T) {
	t.Parallel()

	j := &memJournal{}
	e := New(Options{Kinematic: &kinematic.FixedKinematic{}, Planner: globalplanner.DefaultConfig(), Journal: j})
	cancel, errc := startEngine(t, e, feed(abScript(t)))

	waitFor(t, e, func(s Snapshot) bool { return s.Plan.Len() == 9 })
	cancel()
	<-errc

	require.Equal(t, 1, j.count())
	assert.Equal(t, []string{"ok"}, j.status)
	assert.Equal(t, e.Snapshot().RunNumber, j.runs[0])
}

func TestEngineJournalFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	j := &memJournal{failing: true}
	e := New(Options{Kinematic: &kinematic.FixedKinematic{}, Planner: globalplanner.DefaultConfig(), Journal: j})
	startEngine(t, e, feed(append(abScript(t), parkPose(t))))

	s := waitFor(t, e, func(s Snapshot) bool { return s.Active.Len() == 1 })
	assert.Equal(t, 9, s.Plan.Len())
}

func TestEngineRunsOnce(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	startEngine(t, e, nil)
	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.Run(context.Background(), nil), ErrAlreadyRunning)
}
