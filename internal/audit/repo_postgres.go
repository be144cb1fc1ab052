package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to lead_events. UPDATE/DELETE are rejected by a
// trigger in the schema.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO lead_events (id, lead_id, type, actor_user_id, actor_role, ip_address, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID,
		e.LeadID,
		string(e.Type),
		nullString(e.ActorUserID),
		nullString(e.ActorRole),
		nullString(e.IPAddress),
		nullString(e.Message),
		nullString(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, lead_id, type, actor_user_id, actor_role, ip_address, message, metadata, created_at
FROM lead_events
WHERE lead_id = $1
ORDER BY created_at ASC
LIMIT $2`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e                              Event
			typ                            string
			actor, role, ip, msg, metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &typ, &actor, &role, &ip, &msg, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.ActorUserID = actor.String
		e.ActorRole = role.String
		e.IPAddress = ip.String
		e.Message = msg.String
		e.Metadata = metadata.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
