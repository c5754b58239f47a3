package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/plan"
)

// ErrPlanNotFound is returned when no journal entry matches.
var ErrPlanNotFound = errors.New("plan not found")

// PrimitiveRecord is one stored primitive. Lines and segments use the two
// points; circles use X1/Y1 as the centre.
type PrimitiveRecord struct {
	Kind           string  `json:"kind"`
	PassNumber     int32   `json:"pass_number"`
	AnyDirection   bool    `json:"any_direction"`
	ImplementWidth float64 `json:"implement_width"`
	X1             float64 `json:"x1"`
	Y1             float64 `json:"y1"`
	X2             float64 `json:"x2,omitempty"`
	Y2             float64 `json:"y2,omitempty"`
	Radius         float64 `json:"radius,omitempty"`
	Clockwise      bool    `json:"clockwise,omitempty"`
}

// Entry is a journaled plan.
type Entry struct {
	ID             string            `json:"id"`
	RunNumber      uint32            `json:"run_number"`
	PlanType       string            `json:"plan_type"`
	Status         string            `json:"status"`
	Message        string            `json:"message,omitempty"`
	PrimitiveCount int               `json:"primitive_count"`
	RecordedAtNs   int64             `json:"recorded_at_ns"`
	Primitives     []PrimitiveRecord `json:"primitives,omitempty"`
}

// RecordedAt returns the journal time.
func (e *Entry) RecordedAt() time.Time {
	return time.Unix(0, e.RecordedAtNs)
}

// Plan rebuilds the stored plan.
func (e *Entry) Plan() (*plan.Plan, error) {
	typ, ok := planTypes[e.PlanType]
	if !ok {
		return nil, fmt.Errorf("entry %s: unknown plan type %q", e.ID, e.PlanType)
	}
	prims := make([]plan.Primitive, 0, len(e.Primitives))
	for i, r := range e.Primitives {
		p, err := r.primitive()
		if err != nil {
			return nil, fmt.Errorf("entry %s primitive %d: %w", e.ID, i, err)
		}
		prims = append(prims, p)
	}
	return plan.New(typ, e.RunNumber, prims...)
}

var planTypes = map[string]plan.Type{
	plan.TypeOnlyLines.String(): plan.TypeOnlyLines,
	plan.TypeMixed.String():     plan.TypeMixed,
}

func recordOf(p plan.Primitive) PrimitiveRecord {
	r := PrimitiveRecord{
		Kind:           p.Kind().String(),
		PassNumber:     p.PassNumber,
		AnyDirection:   p.AnyDirection,
		ImplementWidth: p.ImplementWidth,
	}
	if l, ok := p.Line(); ok {
		r.X1, r.Y1, r.X2, r.Y2 = l.P.X, l.P.Y, l.Q.X, l.Q.Y
	}
	if s, ok := p.Segment(); ok {
		r.X1, r.Y1, r.X2, r.Y2 = s.Source.X, s.Source.Y, s.Target.X, s.Target.Y
	}
	if c, ok := p.Circle(); ok {
		r.X1, r.Y1, r.Radius, r.Clockwise = c.Center.X, c.Center.Y, c.Radius, c.Clockwise
	}
	return r
}

func (r PrimitiveRecord) primitive() (plan.Primitive, error) {
	a := geom.Point2{X: r.X1, Y: r.Y1}
	b := geom.Point2{X: r.X2, Y: r.Y2}
	switch r.Kind {
	case plan.KindLine.String():
		return plan.NewLine(geom.Line2{P: a, Q: b}, r.ImplementWidth, r.PassNumber, r.AnyDirection), nil
	case plan.KindSegment.String():
		return plan.NewSegment(geom.Segment2{Source: a, Target: b}, r.ImplementWidth, r.PassNumber, r.AnyDirection), nil
	case plan.KindCircle.String():
		c := plan.Circle{Center: a, Radius: r.Radius, Clockwise: r.Clockwise}
		return plan.NewCircle(c, r.ImplementWidth, r.PassNumber, r.AnyDirection), nil
	default:
		return plan.Primitive{}, fmt.Errorf("unknown kind %q", r.Kind)
	}
}

// PlanStore journals published plans.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore creates a PlanStore over an opened journal.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db.DB}
}

// Record stores p with its outcome and returns the new entry ID.
func (s *PlanStore) Record(ctx context.Context, p *plan.Plan, status, message string, at time.Time) (string, error) {
	id := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin record plan: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, run_number, plan_type, status, message, primitive_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, int64(p.RunNumber()), p.Type().String(), status, message, p.Len(), at.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert plan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plan_primitives (
			plan_id, seq, kind, pass_number, any_direction, implement_width,
			x1, y1, x2, y2, radius, clockwise
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("prepare insert primitive: %w", err)
	}
	defer stmt.Close()

	for i, prim := range p.Primitives() {
		r := recordOf(prim)
		if _, err := stmt.ExecContext(ctx, id, i, r.Kind, r.PassNumber, r.AnyDirection, r.ImplementWidth,
			r.X1, r.Y1, r.X2, r.Y2, r.Radius, r.Clockwise); err != nil {
			return "", fmt.Errorf("insert primitive %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record plan: %w", err)
	}
	return id, nil
}

const entryColumns = `id, run_number, plan_type, status, message, primitive_count, recorded_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	e := &Entry{}
	var run int64
	if err := row.Scan(&e.ID, &run, &e.PlanType, &e.Status, &e.Message, &e.PrimitiveCount, &e.RecordedAtNs); err != nil {
		return nil, err
	}
	e.RunNumber = uint32(run)
	return e, nil
}

// Get returns the entry with id, including its primitives.
func (s *PlanStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM plans WHERE id = ?`, id)
	return s.loadEntry(ctx, row)
}

// Latest returns the most recently recorded entry, including its primitives.
func (s *PlanStore) Latest(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM plans ORDER BY recorded_at DESC, rowid DESC LIMIT 1`)
	return s.loadEntry(ctx, row)
}

func (s *PlanStore) loadEntry(ctx context.Context, row *sql.Row) (*Entry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	prims, err := s.primitives(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Primitives = prims
	return e, nil
}

func (s *PlanStore) primitives(ctx context.Context, id string) ([]PrimitiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, pass_number, any_direction, implement_width, x1, y1, x2, y2, radius, clockwise
		FROM plan_primitives
		WHERE plan_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list primitives: %w", err)
	}
	defer rows.Close()

	var out []PrimitiveRecord
	for rows.Next() {
		var r PrimitiveRecord
		if err := rows.Scan(&r.Kind, &r.PassNumber, &r.AnyDirection, &r.ImplementWidth,
			&r.X1, &r.Y1, &r.X2, &r.Y2, &r.Radius, &r.Clockwise); err != nil {
			return nil, fmt.Errorf("scan primitive: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// List returns up to limit entries, newest first, without primitives.
func (s *PlanStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM plans ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest keep entries and returns how many were
// removed.
func (s *PlanStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM plans WHERE id NOT IN (
			SELECT id FROM plans ORDER BY recorded_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune plans: %w", err)
	}
	return res.RowsAffected()
}
