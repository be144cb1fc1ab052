package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead-crm/pkg/utils"
)

// PostgresRepo implements Store over the leads table (see migrations/).
// List columns are jsonb. Change subscriptions are served by a Listener fed
// from the lead_changes NOTIFY channel.
type PostgresRepo struct {
	db       *sql.DB
	listener *Listener
}

// NewPostgresRepo builds a repository. listener may be nil, in which case
// Subscribe returns an error.
func NewPostgresRepo(db *sql.DB, listener *Listener) *PostgresRepo {
	return &PostgresRepo{db: db, listener: listener}
}

const leadColumns = `id, name, surname, email, phone, website, status,
  call_started_at, call_ended_at, call_duration_seconds,
  transcript, call_summary, call_recording_url,
  qualification_score, qualification_result, key_insights, objections, next_actions, improvement_areas,
  meeting_scheduled, meeting_datetime,
  current_platform, monthly_traffic, monthly_orders, implementation_timeline, tone_signals,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		l                                              Lead
		website                                        sql.NullString
		status                                         string
		startedAt, endedAt, meetingAt                  sql.NullTime
		duration, score, traffic, orders               sql.NullInt64
		transcript, summary, recording, result         sql.NullString
		platform, timeline, tone                       sql.NullString
		insights, objections, nextActions, improvement []byte
		meeting                                        sql.NullBool
	)
	if err := row.Scan(
		&l.ID, &l.Name, &l.Surname, &l.Email, &l.Phone, &website, &status,
		&startedAt, &endedAt, &duration,
		&transcript, &summary, &recording,
		&score, &result, &insights, &objections, &nextActions, &improvement,
		&meeting, &meetingAt,
		&platform, &traffic, &orders, &timeline, &tone,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}

	l.Website = website.String
	l.Status = Status(status)
	l.CallStartedAt = nullTime(startedAt)
	l.CallEndedAt = nullTime(endedAt)
	l.MeetingDatetime = nullTime(meetingAt)
	l.CallDurationSeconds = nullInt(duration)
	l.QualificationScore = nullInt(score)
	l.MonthlyTraffic = nullInt(traffic)
	l.MonthlyOrders = nullInt(orders)
	l.Transcript = nullString(transcript)
	l.CallSummary = nullString(summary)
	l.CallRecordingURL = nullString(recording)
	l.QualificationResult = nullString(result)
	l.CurrentPlatform = nullString(platform)
	l.ImplementationTimeline = nullString(timeline)
	l.ToneSignals = nullString(tone)
	l.MeetingScheduled = meeting.Valid && meeting.Bool

	var err error
	if l.KeyInsights, err = decodeList(insights); err != nil {
		return Lead{}, fmt.Errorf("key_insights: %w", err)
	}
	if l.Objections, err = decodeList(objections); err != nil {
		return Lead{}, fmt.Errorf("objections: %w", err)
	}
	if l.NextActions, err = decodeList(nextActions); err != nil {
		return Lead{}, fmt.Errorf("next_actions: %w", err)
	}
	if l.ImprovementAreas, err = decodeList(improvement); err != nil {
		return Lead{}, fmt.Errorf("improvement_areas: %w", err)
	}
	return l, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return scanLead(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Lead, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	q := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Insert(ctx context.Context, in NewLead, now time.Time) (Lead, error) {
	q := `
INSERT INTO leads (name, surname, email, phone, website, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING ` + leadColumns
	return scanLead(r.db.QueryRowContext(ctx, q,
		in.Name,
		in.Surname,
		in.Email,
		in.Phone,
		nullIfEmpty(in.Website),
		string(StatusNew),
		now,
	))
}

// Update writes p and returns the post-mutation row. A status change is
// re-checked against the locked row so concurrent writers on other replicas
// cannot move a lead backwards.
func (r *PostgresRepo) Update(ctx context.Context, id string, p Patch, now time.Time) (Lead, error) {
	q, args := updateQuery(id, p, now)
	if q == "" {
		return Lead{}, ErrEmptyPatch
	}
	if p.Status == nil {
		return scanLead(r.db.QueryRowContext(ctx, q, args...))
	}

	var out Lead
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = $1 FOR UPDATE`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !CanTransition(Status(cur), *p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, *p.Status)
		}
		out, err = scanLead(tx.QueryRowContext(ctx, q, args...))
		return err
	})
	return out, err
}

func updateQuery(id string, p Patch, now time.Time) (string, []any) {
	cols := p.Columns()
	if len(cols) == 0 {
		return "", nil
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		args = append(args, c.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", c.Name, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	return fmt.Sprintf(`UPDATE leads SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), leadColumns), args
}

func (r *PostgresRepo) Subscribe(ctx context.Context, f SubscribeFilter) (<-chan Change, error) {
	if r.listener == nil {
		return nil, errors.New("leads: change listener not configured")
	}
	return r.listener.Subscribe(ctx, f), nil
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
