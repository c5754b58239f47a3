// Package pipeline wires the pose feed, the kinematic chain and both
// planners together and runs every state mutation on one control goroutine.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/dispatch"
	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/globalplanner"
	"github.com/fieldguide/guidance/internal/kinematic"
	"github.com/fieldguide/guidance/internal/localplanner"
	"github.com/fieldguide/guidance/internal/plan"
	"github.com/fieldguide/guidance/internal/posefeed"
	"github.com/fieldguide/guidance/internal/timeutil"
)

var ErrAlreadyRunning = errors.New("engine already running")

const (
	actionBuffer  = 16
	journalBuffer = 32
	subBuffer     = 8
)

// Journal persists published plans.
type Journal interface {
	Record(ctx context.Context, p *plan.Plan, status, message string, at time.Time) (string, error)
}

// Options configures an Engine.
type Options struct {
	Kinematic *kinematic.FixedKinematic
	Planner   globalplanner.Config
	// Workers is the number of background plan workers. Zero computes plans
	// inline on the control goroutine.
	Workers    int
	QueueDepth int
	Clock      timeutil.Clock
	Journal    Journal
}

// OptionsFromGuidance builds Options from the loaded configuration. The
// journal is left unset.
func OptionsFromGuidance(cfg *config.GuidanceConfig) Options {
	return Options{
		Kinematic:  kinematic.FromGuidance(cfg),
		Planner:    globalplanner.ConfigFromGuidance(cfg),
		Workers:    cfg.GetWorkerCount(),
		QueueDepth: cfg.GetJobQueueDepth(),
	}
}

// Snapshot is a consistent view of the engine, safe to read from any
// goroutine.
type Snapshot struct {
	Plan           *plan.Plan
	Active         *plan.Plan
	Report         globalplanner.Report
	State          globalplanner.State
	RunNumber      uint32
	StaleResults   uint64
	EvictedJobs    uint64
	Poses          kinematic.DerivedPoses
	PoseCount      uint64
	AB             geom.Segment3
	HasAB          bool
	ImplementWidth float64
	UpdatedAt      time.Time
}

type journalItem struct {
	plan   *plan.Plan
	report globalplanner.Report
	at     time.Time
}

// Engine owns the planners. Everything that touches them runs inside Run.
type Engine struct {
	clock    timeutil.Clock
	kin      *kinematic.FixedKinematic
	planner  *globalplanner.Planner
	selector *localplanner.Selector
	disp     *dispatch.Dispatcher[globalplanner.Result]

	actions chan func()
	plans   *hub[*plan.Plan]
	active  *hub[*plan.Plan]

	journal   Journal
	journalCh chan journalItem

	lastPoses kinematic.DerivedPoses
	poseCount uint64

	snap    atomic.Pointer[Snapshot]
	running atomic.Bool
}

// New builds an engine. Background workers start immediately when
// opts.Workers is positive.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Kinematic == nil {
		opts.Kinematic = kinematic.NewFixedKinematic()
	}
	e := &Engine{
		clock:    opts.Clock,
		kin:      opts.Kinematic,
		selector: localplanner.New(),
		actions:  make(chan func(), actionBuffer),
		plans:    newHub[*plan.Plan](),
		active:   newHub[*plan.Plan](),
		journal:  opts.Journal,
	}
	var sub globalplanner.Submitter
	if opts.Workers > 0 {
		e.disp = dispatch.New[globalplanner.Result](opts.Workers, opts.QueueDepth, opts.Clock)
		sub = e.disp
	}
	if e.journal != nil {
		e.journalCh = make(chan journalItem, journalBuffer)
	}
	e.planner = globalplanner.New(opts.Planner, sub)
	e.planner.OnPlanChanged(e.onPlan)
	e.selector.OnActiveChanged(e.active.publish)
	e.updateSnapshot()
	return e
}

// Snapshot returns the latest consistent view.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

// SubscribePlan returns a channel receiving every published plan.
func (e *Engine) SubscribePlan() (string, <-chan *plan.Plan) { return e.plans.subscribe(subBuffer) }

// UnsubscribePlan closes a plan subscription.
func (e *Engine) UnsubscribePlan(id string) { e.plans.unsubscribe(id) }

// SubscribeActive returns a channel receiving every active-line publication.
func (e *Engine) SubscribeActive() (string, <-chan *plan.Plan) {
	return e.active.subscribe(subBuffer)
}

// UnsubscribeActive closes an active-line subscription.
func (e *Engine) UnsubscribeActive(id string) { e.active.unsubscribe(id) }

// Enqueue hands ev to the control goroutine. It blocks while the action
// queue is full.
func (e *Engine) Enqueue(ctx context.Context, ev posefeed.Event) error {
	select {
	case e.actions <- func() { e.handle(ev) }:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events, operator actions and worker results until ctx is
// done. A closed events channel is not fatal; Run keeps serving actions.
func (e *Engine) Run(ctx context.Context, events <-chan posefeed.Event) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	journalDone := make(chan struct{})
	if e.journalCh != nil {
		go e.runJournal(context.WithoutCancel(ctx), journalDone)
	} else {
		close(journalDone)
	}
	defer func() {
		if e.disp != nil {
			e.disp.Close()
			go func() {
				for range e.disp.Results() {
				}
			}()
		}
		if e.journalCh != nil {
			close(e.journalCh)
		}
		<-journalDone
		e.plans.close()
		e.active.close()
		diagf("stopped after %d poses", e.poseCount)
	}()

	var results <-chan dispatch.Result[globalplanner.Result]
	if e.disp != nil {
		results = e.disp.Results()
	}
	diagf("running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				diagf("event source closed")
				events = nil
				continue
			}
			e.handle(ev)

		case fn := <-e.actions:
			fn()

		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			e.applyResult(res)
		}
		e.updateSnapshot()
	}
}

func (e *Engine) applyResult(res dispatch.Result[globalplanner.Result]) {
	if res.Err != nil {
		opsf("run %d: %v", res.RunNumber, res.Err)
		return
	}
	if !e.planner.ApplyResult(res.Value) {
		tracef("run %d superseded after %v", res.RunNumber, res.Finished.Sub(res.Started))
	}
}

func (e *Engine) handle(ev posefeed.Event) {
	switch ev.Kind {
	case posefeed.EventPose:
		e.handlePose(ev.Pose)
	case posefeed.EventCommand:
		e.apply(ev.Command)
	}
}

func (e *Engine) handlePose(p kinematic.Pose) {
	if p.Options.Has(kinematic.CalculateLocalOffsets) {
		// Local offsets only mean something as implement edges.
		tracef("local offset pose without edge command ignored")
		return
	}
	d := e.kin.SetPose(p)
	e.lastPoses = d
	e.poseCount++
	tracef("tow (%.3f,%.3f) heading %.1f°", d.Tow.Position.X, d.Tow.Position.Y, d.Tow.Orientation.HeadingDegrees())
	e.planner.SetPose(d.Tow)
	e.selector.SetPose(d.Tow)
}

func (e *Engine) apply(c posefeed.Command) {
	diagf("command %d", c.Op)
	switch c.Op {
	case posefeed.OpMarkA:
		e.planner.MarkA()
	case posefeed.OpMarkB:
		e.planner.MarkB()
	case posefeed.OpSnap:
		e.planner.Snap()
	case posefeed.OpTurnLeft:
		e.planner.TurnLeft()
	case posefeed.OpTurnRight:
		e.planner.TurnRight()
	case posefeed.OpPlannerSettings:
		e.planner.SetPlannerSettings(c.PathsToGenerate, c.PathsInReserve)
	case posefeed.OpPassSettings:
		e.planner.SetPassSettings(c.ForwardPasses, c.ReversePasses, c.StartRight, c.Mirror)
	case posefeed.OpRunNumber:
		e.planner.SetRunNumber(c.RunNumber)
	case posefeed.OpPassNumber:
		e.planner.SetPassNumberTo(c.PassNumber)
	case posefeed.OpLeftEdge:
		e.planner.SetPoseLeftEdge(c.Edge)
	case posefeed.OpRightEdge:
		e.planner.SetPoseRightEdge(c.Edge)
	case posefeed.OpField:
		e.planner.SetField(c.Field)
	default:
		opsf("unknown command op %d", c.Op)
	}
}

// onPlan runs on the control goroutine whenever the global planner publishes.
func (e *Engine) onPlan(p *plan.Plan, r globalplanner.Report) {
	e.selector.SetPlan(p)
	e.plans.publish(p)
	if e.journalCh == nil {
		return
	}
	select {
	case e.journalCh <- journalItem{plan: p, report: r, at: e.clock.Now()}:
	default:
		opsf("journal backlog full, run %d not recorded", p.RunNumber())
	}
}

func (e *Engine) runJournal(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for item := range e.journalCh {
		if _, err := e.journal.Record(ctx, item.plan, item.report.Status.String(), item.report.Message, item.at); err != nil {
			opsf("journal run %d: %v", item.plan.RunNumber(), err)
		}
	}
}

func (e *Engine) updateSnapshot() {
	ab, hasAB := e.planner.AB()
	s := &Snapshot{
		Plan:           e.planner.Plan(),
		Active:         e.selector.Active(),
		Report:         e.planner.LastReport(),
		State:          e.planner.State(),
		RunNumber:      e.planner.RunNumber(),
		StaleResults:   e.planner.StaleResults(),
		Poses:          e.lastPoses,
		PoseCount:      e.poseCount,
		AB:             ab,
		HasAB:          hasAB,
		ImplementWidth: e.planner.ImplementSegment().Length(),
		UpdatedAt:      e.clock.Now(),
	}
	if e.disp != nil {
		s.EvictedJobs = e.disp.Evicted()
	}
	e.snap.Store(s)
}
