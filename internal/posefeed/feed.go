// Package posefeed reads poses and operator commands from a line-oriented
// port and fans the raw lines out to any number of subscribers.
package posefeed

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// eventBuffer is the depth of the parsed event channel.
const eventBuffer = 64

// Feed multiplexes one port. Parsed events go to Events; raw lines go to
// subscribers without blocking the reader.
type Feed[T SerialPorter] struct {
	port         T
	events       chan Event
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	malformed    atomic.Uint64
	parsed       atomic.Uint64
}

// NewFeed wraps port.
func NewFeed[T SerialPorter](port T) *Feed[T] {
	return &Feed[T]{
		port:        port,
		events:      make(chan Event, eventBuffer),
		subscribers: make(map[string]chan string),
	}
}

// Events returns the parsed event stream. It is closed when Monitor returns.
func (f *Feed[T]) Events() <-chan Event { return f.events }

// Malformed returns how many lines failed to parse.
func (f *Feed[T]) Malformed() uint64 { return f.malformed.Load() }

// Parsed returns how many lines produced events.
func (f *Feed[T]) Parsed() uint64 { return f.parsed.Load() }

// Subscribe returns a channel of raw lines. Slow subscribers miss lines.
func (f *Feed[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	f.subscribers[id] = ch
	diagf("subscriber %s added", id)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed[T]) Unsubscribe(id string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// SendLine writes a line back to the device, e.g. a receiver configuration
// command.
func (f *Feed[T]) SendLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := f.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("write to port: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("short write to port: %d of %d bytes", n, len(line))
	}
	return nil
}

// Monitor reads lines until ctx is done or the port reaches EOF. Blank lines
// and lines starting with '#' are skipped.
func (f *Feed[T]) Monitor(ctx context.Context) error {
	defer close(f.events)
	scan := bufio.NewScanner(f.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs apart from the select below so cancellation is
	// seen even while the port is silent.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			opsf("read: %v", err)
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			if f.isClosing() {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			f.fanOut(line)

			ev, err := ParseLine(line)
			if err != nil {
				f.malformed.Add(1)
				opsf("%v: %q", err, line)
				continue
			}
			f.parsed.Add(1)
			tracef("%q", line)
			select {
			case f.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *Feed[T]) isClosing() bool {
	f.closingMu.Lock()
	defer f.closingMu.Unlock()
	return f.closing
}

func (f *Feed[T]) fanOut(line string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes every subscriber channel and the port.
func (f *Feed[T]) Close() error {
	f.closingMu.Lock()
	f.closing = true
	f.closingMu.Unlock()

	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	diagf("closed")
	return f.port.Close()
}

// AttachAdminRoutes mounts the live line tail and counters under /debug/.
func (f *Feed[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("posefeed", "pose feed counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "parsed %d\nmalformed %d\n", f.Parsed(), f.Malformed())
	})

	// Server-sent events carrying every raw line.
	debug.HandleSilentFunc("posefeed/tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := f.Subscribe()
		defer f.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
