// Command guidancectl queries and drives a running guidance server.
//
//	guidancectl [-server URL] status|plan|active
//	guidancectl [-server URL] send LINE...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fieldguide/guidance/internal/monitor"
)

var (
	server  = flag.String("server", "http://127.0.0.1:8080", "Base URL of the guidance server")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

var errUsage = errors.New("usage: guidancectl [-server URL] status|plan|active|send LINE...")

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := monitor.NewClient(*server, &http.Client{Timeout: *timeout})
	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *monitor.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	var v any
	var err error
	switch args[0] {
	case "status":
		v, err = c.Status(ctx)
	case "plan":
		v, err = c.Plan(ctx)
	case "active":
		v, err = c.ActivePlan(ctx)
	case "send":
		if len(args) < 2 {
			return errUsage
		}
		var n int
		n, err = c.Send(ctx, args[1:]...)
		if err == nil {
			_, err = fmt.Fprintf(out, "accepted %d\n", n)
		}
		return err
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
