package publish

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/plan"
	"github.com/fieldguide/guidance/internal/timeutil"
)

type fakeSource struct {
	plans  chan *plan.Plan
	active chan *plan.Plan
}

func newFakeSource() *fakeSource {
	return &fakeSource{plans: make(chan *plan.Plan, 4), active: make(chan *plan.Plan, 4)}
}

func (f *fakeSource) SubscribePlan() (string, <-chan *plan.Plan)   { return "plans", f.plans }
func (f *fakeSource) UnsubscribePlan(string)                       {}
func (f *fakeSource) SubscribeActive() (string, <-chan *plan.Plan) { return "active", f.active }
func (f *fakeSource) UnsubscribeActive(string)                     {}

func linePlan(t *testing.T, run uint32, ys ...float64) *plan.Plan {
	t.Helper()
	prims := make([]plan.Primitive, len(ys))
	for i, y := range ys {
		l := geom.Line2{P: geom.Point2{Y: y}, Q: geom.Point2{X: 100, Y: y}}
		prims[i] = plan.NewLine(l, 10, int32(i), true)
	}
	p, err := plan.New(plan.TypeOnlyLines, run, prims...)
	require.NoError(t, err)
	return p
}

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 500, time.UTC)

// startPublisher serves p on an in-memory listener and returns a connected
// client. Cancelling the returned func stops the server.
func startPublisher(t *testing.T, p *Publisher) (*grpc.ClientConn, context.CancelFunc, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})
	return conn, cancel, errc
}

func recvFrame(t *testing.T, s *Stream) Frame {
	t.Helper()
	type result struct {
		f   Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := s.Recv()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	seg := plan.NewSegment(geom.Segment2{Source: geom.Point2{X: 1, Y: 2}, Target: geom.Point2{X: 3, Y: 4}}, 6, 7, false)
	circle := plan.NewCircle(plan.Circle{Center: geom.Point2{X: -5, Y: 5}, Radius: 12, Clockwise: true}, 6, 8, true)
	line := plan.NewLine(geom.Line2{P: geom.Point2{}, Q: geom.Point2{X: 1}}, 6, 0, true)
	pl, err := plan.New(plan.TypeMixed, 42, line, seg, circle)
	require.NoError(t, err)

	msg, err := encodeFrame(Frame{Topic: TopicActive, Sequence: 9, PublishedAt: epoch, Plan: pl})
	require.NoError(t, err)
	got, err := DecodeFrame(msg)
	require.NoError(t, err)

	assert.Equal(t, TopicActive, got.Topic)
	assert.Equal(t, uint64(9), got.Sequence)
	assert.True(t, epoch.Equal(got.PublishedAt), "published at %v", got.PublishedAt)
	assert.Equal(t, plan.TypeMixed, got.Plan.Type())
	assert.Equal(t, uint32(42), got.Plan.RunNumber())
	require.Equal(t, 3, got.Plan.Len())
	for i, want := range pl.Primitives() {
		if !want.Equal(got.Plan.At(i)) {
			t.Errorf("primitive %d: got %v, want %v", i, got.Plan.At(i), want)
		}
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	t.Parallel()

	good, err := encodeFrame(Frame{Topic: TopicPlan, PublishedAt: epoch, Plan: linePlan(t, 1, 0)})
	require.NoError(t, err)

	for name, mutate := range map[string]func(m map[string]any){
		"plan type":    func(m map[string]any) { m["plan_type"] = "spiral" },
		"no timestamp": func(m map[string]any) { delete(m, "published_at") },
		"short points": func(m map[string]any) {
			m["primitives"] = []any{map[string]any{"kind": "line", "points": []any{1.0, 2.0}}}
		},
		"unknown kind": func(m map[string]any) {
			m["primitives"] = []any{map[string]any{"kind": "spline", "points": []any{1.0, 2.0, 3.0, 4.0}}}
		},
		"not an object": func(m map[string]any) { m["primitives"] = []any{"line"} },
	} {
		m := good.AsMap()
		mutate(m)
		bad, err := structpb.NewStruct(m)
		require.NoError(t, err, name)
		_, err = DecodeFrame(bad)
		assert.ErrorIs(t, err, ErrBadFrame, name)
	}
}

func TestBroadcastCountsDrops(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	p := NewPublisher(Config{ClientBuffer: 1, Clock: clock}, newFakeSource())
	slow, err := p.addClient(TopicPlan)
	require.NoError(t, err)
	other, err := p.addClient(TopicActive)
	require.NoError(t, err)

	p.broadcast(TopicPlan, linePlan(t, 1, 0))
	clock.Advance(time.Second)
	p.broadcast(TopicPlan, linePlan(t, 2, 0, 10))

	assert.Equal(t, uint64(2), p.Frames())
	assert.Equal(t, uint64(1), p.Dropped())
	assert.Len(t, slow.frames, 1)
	assert.Empty(t, other.frames)

	// A late joiner starts from the newest frame.
	late, err := p.addClient(TopicPlan)
	require.NoError(t, err)
	f, err := DecodeFrame(<-late.frames)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Sequence)
	assert.Equal(t, uint32(2), f.Plan.RunNumber())
	assert.True(t, epoch.Add(time.Second).Equal(f.PublishedAt))

	p.removeClient(slow.id)
	assert.Equal(t, 2, p.Clients())
}

func TestStreamsPlansAndActive(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	p := NewPublisher(DefaultConfig(), src)
	conn, _, _ := startPublisher(t, p)
	c := NewClient(conn)

	src.plans <- linePlan(t, 3, 0, 10, 20)
	plans, err := c.Plans(context.Background())
	require.NoError(t, err)
	f := recvFrame(t, plans)
	assert.Equal(t, TopicPlan, f.Topic)
	assert.Equal(t, uint32(3), f.Plan.RunNumber())
	if diff := cmp.Diff([]int32{0, 1, 2}, f.Plan.PassNumbers()); diff != "" {
		t.Errorf("pass numbers (-want +got):\n%s", diff)
	}

	active, err := c.Active(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	src.active <- linePlan(t, 3, 10)
	a := recvFrame(t, active)
	assert.Equal(t, TopicActive, a.Topic)
	assert.Equal(t, 1, a.Plan.Len())

	src.plans <- linePlan(t, 4, 0)
	f2 := recvFrame(t, plans)
	assert.Equal(t, uint32(4), f2.Plan.RunNumber())
	assert.Greater(t, f2.Sequence, f.Sequence)
}

func TestHealthServing(t *testing.T) {
	t.Parallel()

	conn, _, _ := startPublisher(t, NewPublisher(DefaultConfig(), newFakeSource()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestMaxClients(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	conn, _, _ := startPublisher(t, NewPublisher(cfg, src))
	c := NewClient(conn)

	src.plans <- linePlan(t, 1, 0)
	first, err := c.Plans(context.Background())
	require.NoError(t, err)
	recvFrame(t, first)

	second, err := c.Plans(context.Background())
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err), "err %v", err)
}

func TestServeEndsStreamsOnCancel(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	p := NewPublisher(DefaultConfig(), src)
	conn, cancel, errc := startPublisher(t, p)

	src.plans <- linePlan(t, 1, 0)
	s, err := NewClient(conn).Plans(context.Background())
	require.NoError(t, err)
	recvFrame(t, s)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	_, err = s.Recv()
	assert.True(t, errors.Is(err, io.EOF) || status.Code(err) == codes.Unavailable, "err %v", err)

	assert.ErrorIs(t, p.Serve(context.Background(), bufconn.Listen(1)), ErrAlreadyRunning)
}
