// Package model names the tables and columns of the note store and
// converts between store rows and typed records.
package model

// Table names.
const (
	TableSessions      = "sessions"
	TableHumans        = "humans"
	TableOrganizations = "organizations"
	TableParticipants  = "mapping_session_participant"
	TableEnhancedNotes = "enhanced_notes"
	TableTranscripts   = "transcripts"
)

// Session columns.
const (
	ColTitle            = "title"
	ColCreatedAt        = "created_at"
	ColVisitedAt        = "visited_at"
	ColUserID           = "user_id"
	ColCalendarEventID  = "calendar_event_id"
	ColRawMemoHTML      = "raw_memo_html"
	ColEnhancedMemoHTML = "enhanced_memo_html"
	ColWords            = "words"
)

// Human columns.
const (
	ColOrganizationID   = "organization_id"
	ColIsUser           = "is_user"
	ColFullName         = "full_name"
	ColEmail            = "email"
	ColJobTitle         = "job_title"
	ColLinkedinUsername = "linkedin_username"
)

// Organization columns.
const (
	ColName        = "name"
	ColDescription = "description"
)

// Join, enhanced note and transcript columns.
const (
	ColSessionID    = "session_id"
	ColHumanID      = "human_id"
	ColContent      = "content"
	ColTemplateID   = "template_id"
	ColPosition     = "position"
	ColStartedAt    = "started_at"
	ColEndedAt      = "ended_at"
	ColSpeakerHints = "speaker_hints"
)

// Relationship names.
const (
	RelHumanOrganization   = "humanOrganization"
	RelHumanSessions       = "humanSessions"
	RelParticipantHuman    = "participantHuman"
	RelParticipantSession  = "participantSession"
	RelEnhancedNoteSession = "enhancedNoteSession"
	RelTranscriptSession   = "transcriptSession"
)

// Relationship is one foreign-key definition.
type Relationship struct {
	Name        string
	LocalTable  string
	RemoteTable string
	ForeignKey  string
}

// Relationships lists every foreign key the app defines, in definition order.
var Relationships = []Relationship{
	{RelHumanOrganization, TableHumans, TableOrganizations, ColOrganizationID},
	{RelHumanSessions, TableSessions, TableHumans, ColUserID},
	{RelParticipantHuman, TableParticipants, TableHumans, ColHumanID},
	{RelParticipantSession, TableParticipants, TableSessions, ColSessionID},
	{RelEnhancedNoteSession, TableEnhancedNotes, TableSessions, ColSessionID},
	{RelTranscriptSession, TableTranscripts, TableSessions, ColSessionID},
}

// SessionTables lists the tables whose rows belong to exactly one session.
var SessionTables = []string{TableParticipants, TableEnhancedNotes, TableTranscripts}
