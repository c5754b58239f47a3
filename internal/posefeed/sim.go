package posefeed

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/timeutil"
)

// SimPort replays a scripted drive one line per tick, for running without a
// receiver. Writes are discarded. Reads return EOF after the last line.
type SimPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

// NewSimPort starts replaying script on clock's ticker.
func NewSimPort(script []string, interval time.Duration, clock timeutil.Clock) *SimPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	p := &SimPort{r: r, w: w, stop: make(chan struct{})}

	ticker := clock.NewTicker(interval)
	go func() {
		defer w.Close()
		defer ticker.Stop()
		for _, line := range script {
			select {
			case <-ticker.C():
			case <-p.stop:
				return
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}()
	return p
}

func (p *SimPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *SimPort) Write(b []byte) (int, error) { return len(b), nil }

// Close stops the replay.
func (p *SimPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.r.Close()
}

// DriveScript returns a boustrophedon drive: implement edges, A at the
// origin, B after length metres along +x, then passes alternating
// direction, each offset width from the last. Passes step to the left (+y)
// unless right is set, matching the planner's generation side.
func DriveScript(width, length float64, passes int, right bool) []string {
	half := width / 2
	script := []string{
		fmt.Sprintf("!EDGE L 0 %g 0", half),
		fmt.Sprintf("!EDGE R 0 %g 0", -half),
		poseLine(0, 0, 0),
		"!A",
	}
	for x := 1.0; x <= length; x++ {
		script = append(script, poseLine(x, 0, 0))
	}
	script = append(script, "!B")
	for k := 1; k <= passes; k++ {
		y := float64(k) * width
		if right {
			y = -y
		}
		for i := 0.0; i <= length; i++ {
			if k%2 == 1 {
				script = append(script, poseLine(length-i, y, 180))
			} else {
				script = append(script, poseLine(i, y, 0))
			}
		}
	}
	return script
}

func poseLine(x, y, headingDeg float64) string {
	q := geom.FromHeading(geom.Radians(headingDeg))
	return fmt.Sprintf("%.3f,%.3f,0,%.6f,%.6f,%.6f,%.6f", x, y, q.Real, q.Imag, q.Jmag, q.Kmag)
}
