package backing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/notesync/internal/model"
)

// ListSessions returns every session ordered by id.
// Returns an empty slice (not nil) if there are none.
func (d *DB) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, title, created_at, visited_at, user_id,
		       calendar_event_id, raw_memo_html, enhanced_memo_html, words
		FROM sessions
		ORDER BY id COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var s model.Session
		var calendarEventID, enhanced sql.NullString
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.VisitedAt, &s.UserID,
			&calendarEventID, &s.RawMemoHTML, &enhanced, &s.Words); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.CalendarEventID = calendarEventID.String
		s.EnhancedMemoHTML = enhanced.String
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListHumans returns every human ordered by id.
func (d *DB) ListHumans(ctx context.Context) ([]model.Human, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, organization_id, is_user, full_name, email, job_title, linkedin_username
		FROM humans
		ORDER BY id COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query humans: %w", err)
	}
	defer rows.Close()
	return scanHumans(rows)
}

// ListOrganizations returns every organization ordered by id.
func (d *DB) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, description
		FROM organizations
		ORDER BY id COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query organizations: %w", err)
	}
	defer rows.Close()

	orgs := []model.Organization{}
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Description); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

// SessionListParticipants returns the humans attending a session, ordered
// by human id. Join rows naming a missing human are skipped.
func (d *DB) SessionListParticipants(ctx context.Context, sessionID string) ([]model.Human, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT h.id, h.organization_id, h.is_user, h.full_name, h.email, h.job_title, h.linkedin_username
		FROM mapping_session_participant p
		JOIN humans h ON h.id = p.human_id
		WHERE p.session_id = ?
		ORDER BY h.id COLLATE BINARY
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants of %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanHumans(rows)
}

func scanHumans(rows *sql.Rows) ([]model.Human, error) {
	humans := []model.Human{}
	for rows.Next() {
		var h model.Human
		var orgID sql.NullString
		if err := rows.Scan(&h.ID, &orgID, &h.IsUser, &h.FullName, &h.Email, &h.JobTitle, &h.LinkedinUsername); err != nil {
			return nil, fmt.Errorf("scan human: %w", err)
		}
		h.OrganizationID = orgID.String
		humans = append(humans, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate humans: %w", err)
	}
	return humans, nil
}
