package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const insertEntrySQL = `INSERT INTO audit_logs (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Repository appends entries to audit_logs.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository returns nil for a nil db so callers can skip auditing when
// no database is configured.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, now: time.Now}
}

// Log writes entry, generating its id, timestamp and digest when unset.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry, err := entry.normalize(r.now())
	if err != nil {
		return err
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err = r.db.ExecContext(ctx, insertEntrySQL,
		entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}
