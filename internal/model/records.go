package model

import (
	"github.com/roach88/notesync/internal/ir"
)

// Session is one recorded meeting or note.
type Session struct {
	ID               string
	Title            string
	CreatedAt        string
	VisitedAt        string
	UserID           string
	CalendarEventID  string
	RawMemoHTML      string
	EnhancedMemoHTML string
	Words            string
}

// Row converts the session to store cells. Empty strings are omitted.
func (s Session) Row() ir.Row {
	r := ir.Row{}
	putString(r, ColTitle, s.Title)
	putString(r, ColCreatedAt, s.CreatedAt)
	putString(r, ColVisitedAt, s.VisitedAt)
	putString(r, ColUserID, s.UserID)
	putString(r, ColCalendarEventID, s.CalendarEventID)
	putString(r, ColRawMemoHTML, s.RawMemoHTML)
	putString(r, ColEnhancedMemoHTML, s.EnhancedMemoHTML)
	putString(r, ColWords, s.Words)
	return r
}

// SessionFromRow reads a session from store cells.
func SessionFromRow(id string, r ir.Row) Session {
	return Session{
		ID:               id,
		Title:            ir.AsString(r[ColTitle]),
		CreatedAt:        ir.AsString(r[ColCreatedAt]),
		VisitedAt:        ir.AsString(r[ColVisitedAt]),
		UserID:           ir.AsString(r[ColUserID]),
		CalendarEventID:  ir.AsString(r[ColCalendarEventID]),
		RawMemoHTML:      ir.AsString(r[ColRawMemoHTML]),
		EnhancedMemoHTML: ir.AsString(r[ColEnhancedMemoHTML]),
		Words:            ir.AsString(r[ColWords]),
	}
}

// Human is a person; the app's own user has IsUser set.
type Human struct {
	ID               string
	OrganizationID   string
	IsUser           bool
	FullName         string
	Email            string
	JobTitle         string
	LinkedinUsername string
}

// Row converts the human to store cells.
func (h Human) Row() ir.Row {
	r := ir.Row{ColIsUser: ir.Bool(h.IsUser)}
	putString(r, ColOrganizationID, h.OrganizationID)
	putString(r, ColFullName, h.FullName)
	putString(r, ColEmail, h.Email)
	putString(r, ColJobTitle, h.JobTitle)
	putString(r, ColLinkedinUsername, h.LinkedinUsername)
	return r
}

// HumanFromRow reads a human from store cells.
func HumanFromRow(id string, r ir.Row) Human {
	return Human{
		ID:               id,
		OrganizationID:   ir.AsString(r[ColOrganizationID]),
		IsUser:           ir.AsBool(r[ColIsUser]),
		FullName:         ir.AsString(r[ColFullName]),
		Email:            ir.AsString(r[ColEmail]),
		JobTitle:         ir.AsString(r[ColJobTitle]),
		LinkedinUsername: ir.AsString(r[ColLinkedinUsername]),
	}
}

// Organization groups humans.
type Organization struct {
	ID          string
	Name        string
	Description string
}

// Row converts the organization to store cells.
func (o Organization) Row() ir.Row {
	r := ir.Row{}
	putString(r, ColName, o.Name)
	putString(r, ColDescription, o.Description)
	return r
}

// OrganizationFromRow reads an organization from store cells.
func OrganizationFromRow(id string, r ir.Row) Organization {
	return Organization{
		ID:          id,
		Name:        ir.AsString(r[ColName]),
		Description: ir.AsString(r[ColDescription]),
	}
}

// SessionParticipant joins a session and a human.
type SessionParticipant struct {
	Key ParticipantKey
}

// Row converts the join to store cells.
func (p SessionParticipant) Row() ir.Row {
	return ir.Row{
		ColSessionID: ir.String(p.Key.SessionID),
		ColHumanID:   ir.String(p.Key.HumanID),
	}
}

// EnhancedNote is a template-generated note attached to a session.
type EnhancedNote struct {
	ID         string
	SessionID  string
	Content    string
	TemplateID string
	Position   int64
	Title      string
}

// Row converts the note to store cells.
func (n EnhancedNote) Row() ir.Row {
	r := ir.Row{
		ColSessionID: ir.String(n.SessionID),
		ColContent:   ir.String(n.Content),
		ColPosition:  ir.Int(n.Position),
	}
	putString(r, ColTemplateID, n.TemplateID)
	putString(r, ColTitle, n.Title)
	return r
}

// EnhancedNoteFromRow reads a note from store cells.
func EnhancedNoteFromRow(id string, r ir.Row) EnhancedNote {
	pos, _ := ir.AsInt(r[ColPosition])
	return EnhancedNote{
		ID:         id,
		SessionID:  ir.AsString(r[ColSessionID]),
		Content:    ir.AsString(r[ColContent]),
		TemplateID: ir.AsString(r[ColTemplateID]),
		Position:   pos,
		Title:      ir.AsString(r[ColTitle]),
	}
}

func putString(r ir.Row, col, v string) {
	if v != "" {
		r[col] = ir.String(v)
	}
}
