package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeOrder     = "order-service"
	ModeSimulator = "simulator-service"
	ModeTracking  = "tracking-service"
)

// isKnownMode resolves a mode name or its shorthand to the canonical
// service name.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeOrder, "order", "o":
		return ModeOrder, true
	case ModeSimulator, "simulator", "sim", "s":
		return ModeSimulator, true
	case ModeTracking, "tracking", "t":
		return ModeTracking, true
	default:
		return "", false
	}
}

// ParseMode picks the service mode out of the argument list, accepting
// either --mode=<service> or the service name as a bare subcommand. The
// remaining arguments are returned for the mode's own FlagSet.
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<service>")
	}

	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return mode, out, nil
}

// PrintUsage writes the top-level help with one example per service.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./drone-delivery --mode=<service> [flags]

Services (modes):
  order-service                Delivery creation, viewer tokens, catalog, geocoding
  simulator-service            Flight simulations that emit drone telemetry
  tracking-service             Telemetry ingestion and live tracking (HTTP + WebSocket)

Examples:
  ./drone-delivery --mode=order-service --max-concurrent=100
  ./drone-delivery --mode=simulator-service --max-concurrent=50 --max-pushes=64
  ./drone-delivery --mode=tracking-service --max-concurrent=200`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage gives a FlagSet a short usage line naming its mode.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./drone-delivery --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
