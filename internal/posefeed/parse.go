package posefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/kinematic"
)

var (
	ErrMalformedPose    = errors.New("malformed pose line")
	ErrMalformedCommand = errors.New("malformed command line")
	ErrUnknownCommand   = errors.New("unknown command")
)

// EventKind tells poses from operator commands.
type EventKind uint8

const (
	EventPose EventKind = iota + 1
	EventCommand
)

// CommandOp names an operator action.
type CommandOp uint8

const (
	OpMarkA CommandOp = iota + 1
	OpMarkB
	OpSnap
	OpTurnLeft
	OpTurnRight
	OpPlannerSettings
	OpPassSettings
	OpRunNumber
	OpPassNumber
	OpLeftEdge
	OpRightEdge
	OpField
)

var commandNames = map[string]CommandOp{
	"A":      OpMarkA,
	"B":      OpMarkB,
	"SNAP":   OpSnap,
	"LEFT":   OpTurnLeft,
	"RIGHT":  OpTurnRight,
	"PASSES": OpPlannerSettings,
	"DIRS":   OpPassSettings,
	"RUN":    OpRunNumber,
	"PASS":   OpPassNumber,
	"EDGE":   0, // resolved from the side argument
	"FIELD":  OpField,
}

// Command is a parsed operator action. Only the fields relevant to Op are
// set.
type Command struct {
	Op CommandOp

	PathsToGenerate int
	PathsInReserve  int
	ForwardPasses   int
	ReversePasses   int
	StartRight      bool
	Mirror          bool
	RunNumber       uint32
	PassNumber      int32
	// Edge carries the implement edge for OpLeftEdge and OpRightEdge, flagged
	// as a local offset without orientation.
	Edge kinematic.Pose
	// Field is nil when the command clears the boundary.
	Field *geom.PolygonWithHoles
}

// Event is one parsed feed line.
type Event struct {
	Kind    EventKind
	Pose    kinematic.Pose
	Command Command
	Line    string
}

type jsonPose struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	HeadingDeg *float64 `json:"heading_deg"`
	Flags      uint8    `json:"flags"`
}

// ParseLine parses a pose line ("x,y,z,qw,qx,qy,qz[,flags]" or a JSON
// object) or a command line starting with '!'.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return Event{}, fmt.Errorf("%w: empty line", ErrMalformedPose)
	case strings.HasPrefix(line, "!"):
		cmd, err := parseCommand(line[1:])
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventCommand, Command: cmd, Line: line}, nil
	case strings.HasPrefix(line, "{"):
		pose, err := parseJSONPose(line)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventPose, Pose: pose, Line: line}, nil
	default:
		pose, err := parseCSVPose(line)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventPose, Pose: pose, Line: line}, nil
	}
}

func parseCSVPose(line string) (kinematic.Pose, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 && len(fields) != 8 {
		return kinematic.Pose{}, fmt.Errorf("%w: want 7 or 8 fields, got %d", ErrMalformedPose, len(fields))
	}
	var v [7]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return kinematic.Pose{}, fmt.Errorf("%w: field %d: %v", ErrMalformedPose, i, err)
		}
		v[i] = f
	}
	var opts kinematic.PoseOption
	if len(fields) == 8 {
		f, err := parseFlags(fields[7])
		if err != nil {
			return kinematic.Pose{}, err
		}
		opts = f
	}
	q := geom.NewQuaternion(v[3], v[4], v[5], v[6])
	if q == (geom.Quaternion{}) {
		return kinematic.Pose{}, fmt.Errorf("%w: zero quaternion", ErrMalformedPose)
	}
	return kinematic.NewPose(geom.Point3{X: v[0], Y: v[1], Z: v[2]}, q.Normalized(), opts), nil
}

func parseJSONPose(line string) (kinematic.Pose, error) {
	var jp jsonPose
	if err := json.Unmarshal([]byte(line), &jp); err != nil {
		return kinematic.Pose{}, fmt.Errorf("%w: %v", ErrMalformedPose, err)
	}
	if jp.Flags > uint8(allFlags) {
		return kinematic.Pose{}, fmt.Errorf("%w: unknown flags %#x", ErrMalformedPose, jp.Flags)
	}
	q := geom.Identity()
	if jp.HeadingDeg != nil {
		q = geom.FromHeading(geom.Radians(*jp.HeadingDeg))
	}
	return kinematic.NewPose(geom.Point3{X: jp.X, Y: jp.Y, Z: jp.Z}, q, kinematic.PoseOption(jp.Flags)), nil
}

const allFlags = kinematic.CalculateLocalOffsets | kinematic.CalculateWithoutOrientation | kinematic.CalculateFromPivotPoint

func parseFlags(s string) (kinematic.PoseOption, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: flags: %v", ErrMalformedPose, err)
	}
	if kinematic.PoseOption(n)&^allFlags != 0 {
		return 0, fmt.Errorf("%w: unknown flags %#x", ErrMalformedPose, n)
	}
	return kinematic.PoseOption(n), nil
}

func parseCommand(body string) (Command, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrMalformedCommand)
	}
	name := strings.ToUpper(fields[0])
	op, ok := commandNames[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	args := fields[1:]
	cmd := Command{Op: op}
	var err error

	switch name {
	case "A", "B", "SNAP", "LEFT", "RIGHT":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformedCommand, name)
		}
	case "PASSES":
		if err = wantArgs(name, args, 2); err == nil {
			cmd.PathsToGenerate, cmd.PathsInReserve, err = twoInts(args)
		}
	case "DIRS":
		if err = wantArgs(name, args, 4); err == nil {
			cmd.ForwardPasses, cmd.ReversePasses, err = twoInts(args)
		}
		if err == nil {
			cmd.StartRight, err = strconv.ParseBool(args[2])
		}
		if err == nil {
			cmd.Mirror, err = strconv.ParseBool(args[3])
		}
	case "RUN":
		if err = wantArgs(name, args, 1); err == nil {
			var n uint64
			if n, err = strconv.ParseUint(args[0], 10, 32); err == nil {
				cmd.RunNumber = uint32(n)
			}
		}
	case "PASS":
		if err = wantArgs(name, args, 1); err == nil {
			var n int64
			if n, err = strconv.ParseInt(args[0], 10, 32); err == nil {
				cmd.PassNumber = int32(n)
			}
		}
	case "EDGE":
		cmd, err = parseEdge(args)
	case "FIELD":
		cmd.Field, err = parseField(args)
	}
	if err != nil {
		if errors.Is(err, ErrMalformedCommand) {
			return Command{}, err
		}
		return Command{}, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, name, err)
	}
	return cmd, nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s wants %d arguments, got %d", ErrMalformedCommand, name, n, len(args))
	}
	return nil
}

func twoInts(args []string) (int, int, error) {
	a, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseEdge(args []string) (Command, error) {
	if err := wantArgs("EDGE", args, 4); err != nil {
		return Command{}, err
	}
	var cmd Command
	switch strings.ToUpper(args[0]) {
	case "L":
		cmd.Op = OpLeftEdge
	case "R":
		cmd.Op = OpRightEdge
	default:
		return Command{}, fmt.Errorf("%w: EDGE side %q, want L or R", ErrMalformedCommand, args[0])
	}
	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return Command{}, err
		}
		v[i] = f
	}
	cmd.Edge = kinematic.NewPose(geom.Point3{X: v[0], Y: v[1], Z: v[2]}, geom.Identity(),
		kinematic.CalculateLocalOffsets|kinematic.CalculateWithoutOrientation)
	return cmd, nil
}

// parseField reads "x1 y1 x2 y2 ..." as the outer ring. No arguments clears
// the field.
func parseField(args []string) (*geom.PolygonWithHoles, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args)%2 != 0 || len(args) < 6 {
		return nil, fmt.Errorf("%w: FIELD wants at least three x y pairs", ErrMalformedCommand)
	}
	ring := make(geom.Polygon, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		x, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return nil, err
		}
		ring = append(ring, geom.Point2{X: x, Y: y})
	}
	return &geom.PolygonWithHoles{Outer: ring}, nil
}
