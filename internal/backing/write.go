package backing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/notesync/internal/model"
)

// ErrReadOnly is returned by the write helpers on a read-only database.
var ErrReadOnly = errors.New("backing database is read-only")

// PutOrganization inserts or replaces an organization.
func (d *DB) PutOrganization(ctx context.Context, o model.Organization) error {
	if d.readOnly {
		return ErrReadOnly
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, description)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`, o.ID, o.Name, o.Description)
	if err != nil {
		return fmt.Errorf("put organization %s: %w", o.ID, err)
	}
	return nil
}

// PutHuman inserts or replaces a human. The organization, if set, must exist.
func (d *DB) PutHuman(ctx context.Context, h model.Human) error {
	if d.readOnly {
		return ErrReadOnly
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO humans (id, organization_id, is_user, full_name, email, job_title, linkedin_username)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			is_user = excluded.is_user,
			full_name = excluded.full_name,
			email = excluded.email,
			job_title = excluded.job_title,
			linkedin_username = excluded.linkedin_username
	`, h.ID, nullable(h.OrganizationID), h.IsUser, h.FullName, h.Email, h.JobTitle, h.LinkedinUsername)
	if err != nil {
		return fmt.Errorf("put human %s: %w", h.ID, err)
	}
	return nil
}

// PutSession inserts or replaces a session.
func (d *DB) PutSession(ctx context.Context, s model.Session) error {
	if d.readOnly {
		return ErrReadOnly
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, visited_at, user_id,
		                      calendar_event_id, raw_memo_html, enhanced_memo_html, words)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			created_at = excluded.created_at,
			visited_at = excluded.visited_at,
			user_id = excluded.user_id,
			calendar_event_id = excluded.calendar_event_id,
			raw_memo_html = excluded.raw_memo_html,
			enhanced_memo_html = excluded.enhanced_memo_html,
			words = excluded.words
	`, s.ID, s.Title, s.CreatedAt, s.VisitedAt, s.UserID,
		nullable(s.CalendarEventID), s.RawMemoHTML, nullable(s.EnhancedMemoHTML), s.Words)
	if err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	return nil
}

// AddParticipant links a human to a session. Adding an existing link is a no-op.
func (d *DB) AddParticipant(ctx context.Context, key model.ParticipantKey) error {
	if d.readOnly {
		return ErrReadOnly
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO mapping_session_participant (session_id, human_id)
		VALUES (?, ?)
		ON CONFLICT(session_id, human_id) DO NOTHING
	`, key.SessionID, key.HumanID)
	if err != nil {
		return fmt.Errorf("add participant %s: %w", key.RowID(), err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
