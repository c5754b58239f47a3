// Package publish streams plan and active-line publications over gRPC to
// out-of-process consumers such as a steering controller.
//
// A client opens StreamPlans or StreamActive and first receives the current
// frame for that topic, then every later one. Clients that fall behind miss
// frames; the misses are counted, never queued.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fieldguide/guidance/internal/plan"
	"github.com/fieldguide/guidance/internal/timeutil"
)

var ErrAlreadyRunning = errors.New("publisher already running")

const shutdownTimeout = 2 * time.Second

// Source is the part of *pipeline.Engine the publisher reads from.
type Source interface {
	SubscribePlan() (string, <-chan *plan.Plan)
	UnsubscribePlan(id string)
	SubscribeActive() (string, <-chan *plan.Plan)
	UnsubscribeActive(id string)
}

// Config configures a Publisher.
type Config struct {
	// ListenAddr is the address Start listens on.
	ListenAddr string
	// MaxClients caps concurrent streams. Zero means no cap.
	MaxClients int
	// ClientBuffer is the per-client frame backlog.
	ClientBuffer int
	Clock        timeutil.Clock
}

// DefaultConfig returns a localhost listener for five clients.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		ClientBuffer: 16,
	}
}

type client struct {
	id     string
	topic  Topic
	frames chan *structpb.Struct
}

// Publisher fans engine publications out to gRPC stream clients.
type Publisher struct {
	cfg    Config
	source Source

	mu      sync.Mutex
	clients map[string]*client
	last    map[Topic]*structpb.Struct
	seq     uint64
	closed  bool

	frames  atomic.Uint64
	dropped atomic.Uint64
	running atomic.Bool
}

// NewPublisher creates a publisher reading from src.
func NewPublisher(cfg Config, src Source) *Publisher {
	if cfg.ClientBuffer < 1 {
		cfg.ClientBuffer = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Publisher{
		cfg:     cfg,
		source:  src,
		clients: make(map[string]*client),
		last:    make(map[Topic]*structpb.Struct),
	}
}

// Frames returns how many frames have been published.
func (p *Publisher) Frames() uint64 { return p.frames.Load() }

// Dropped returns how many client deliveries were skipped because the
// client was behind.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Clients returns the number of connected streams.
func (p *Publisher) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Start listens on the configured address and serves until ctx is done.
func (p *Publisher) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.cfg.ListenAddr, err)
	}
	return p.Serve(ctx, ln)
}

// Serve is Start on an existing listener. It registers the stream service
// and the standard health service, forwards source publications until ctx
// is done, then ends every stream and stops the server.
func (p *Publisher) Serve(ctx context.Context, ln net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	srv := grpc.NewServer()
	srv.RegisterService(&serviceDesc, p)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	planID, plans := p.source.SubscribePlan()
	defer p.source.UnsubscribePlan(planID)
	activeID, active := p.source.SubscribeActive()
	defer p.source.UnsubscribeActive(activeID)

	errc := make(chan error, 1)
	go func() {
		diagf("gRPC server listening on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errc:
			hs.Shutdown()
			p.closeClients()
			return fmt.Errorf("grpc serve: %w", err)
		case pl, ok := <-plans:
			if !ok {
				plans = nil
				continue
			}
			p.broadcast(TopicPlan, pl)
		case pl, ok := <-active:
			if !ok {
				active = nil
				continue
			}
			p.broadcast(TopicActive, pl)
		}
	}

	hs.Shutdown()
	p.closeClients()
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		opsf("graceful stop timed out, closing streams")
		srv.Stop()
	}
	<-errc
	diagf("gRPC server stopped after %d frames (%d dropped)", p.frames.Load(), p.dropped.Load())
	return nil
}

func (p *Publisher) broadcast(topic Topic, pl *plan.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	msg, err := encodeFrame(Frame{Topic: topic, Sequence: p.seq, PublishedAt: p.cfg.Clock.Now(), Plan: pl})
	if err != nil {
		opsf("encode %s frame %d: %v", topic, p.seq, err)
		return
	}
	p.last[topic] = msg
	p.frames.Add(1)
	for _, c := range p.clients {
		if c.topic != topic {
			continue
		}
		select {
		case c.frames <- msg:
		default:
			p.dropped.Add(1)
			diagf("client %s behind, %s frame %d dropped", c.id, topic, p.seq)
		}
	}
}

func (p *Publisher) addClient(topic Topic) (*client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, status.Error(codes.Unavailable, "publisher stopping")
	}
	if p.cfg.MaxClients > 0 && len(p.clients) >= p.cfg.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "%d clients connected", len(p.clients))
	}
	c := &client{id: uuid.NewString(), topic: topic, frames: make(chan *structpb.Struct, p.cfg.ClientBuffer)}
	if msg := p.last[topic]; msg != nil {
		c.frames <- msg
	}
	p.clients[c.id] = c
	diagf("client %s connected for %s (%d total)", c.id, topic, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		diagf("client %s disconnected (%d remaining)", id, len(p.clients))
	}
}

// closeClients ends every stream and refuses new ones.
func (p *Publisher) closeClients() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, c := range p.clients {
		close(c.frames)
		delete(p.clients, id)
	}
}

func (p *Publisher) streamTopic(topic Topic, stream grpc.ServerStream) error {
	c, err := p.addClient(topic)
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.frames:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			tracef("sent %s frame to %s", topic, c.id)
		}
	}
}
