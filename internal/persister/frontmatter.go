package persister

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/notesync/internal/model"
)

// Frontmatter types.
const (
	TypeMemo         = "memo"
	TypeEnhancedNote = "enhanced_note"
	TypeHuman        = "human"
	TypeOrganization = "organization"
)

//go:embed schema.cue
var schemaSource string

// Frontmatter is the union of every notes-file frontmatter. Type selects
// which fields are meaningful.
type Frontmatter struct {
	ID        string `yaml:"id"`
	SessionID string `yaml:"session_id"`
	Type      string `yaml:"type"`
	Title     string `yaml:"title"`

	// Memo only.
	UserID           string   `yaml:"user_id"`
	CreatedAt        string   `yaml:"created_at"`
	VisitedAt        string   `yaml:"visited_at"`
	CalendarEventID  string   `yaml:"calendar_event_id"`
	EnhancedMemoHTML string   `yaml:"enhanced_memo_html"`
	Words            string   `yaml:"words"`
	Participants     []string `yaml:"participants"`

	// Enhanced note only.
	TemplateID string `yaml:"template_id"`
	Position   *int64 `yaml:"position"`

	// Human only.
	OrganizationID   string `yaml:"organization_id"`
	IsUser           bool   `yaml:"is_user"`
	FullName         string `yaml:"full_name"`
	Email            string `yaml:"email"`
	JobTitle         string `yaml:"job_title"`
	LinkedinUsername string `yaml:"linkedin_username"`

	// Organization only.
	Name string `yaml:"name"`
}

func (fm Frontmatter) session(body string) model.Session {
	return model.Session{
		ID:               fm.ID,
		Title:            fm.Title,
		CreatedAt:        fm.CreatedAt,
		VisitedAt:        fm.VisitedAt,
		UserID:           fm.UserID,
		CalendarEventID:  fm.CalendarEventID,
		RawMemoHTML:      body,
		EnhancedMemoHTML: fm.EnhancedMemoHTML,
		Words:            fm.Words,
	}
}

// participants returns the listed human ids without duplicates.
func (fm Frontmatter) participants() []string {
	var out []string
	for _, h := range fm.Participants {
		if !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}

func (fm Frontmatter) enhancedNote(body string) model.EnhancedNote {
	n := model.EnhancedNote{
		ID:         fm.ID,
		SessionID:  fm.SessionID,
		Content:    body,
		TemplateID: fm.TemplateID,
		Title:      fm.Title,
	}
	if fm.Position != nil {
		n.Position = *fm.Position
	}
	return n
}

func (fm Frontmatter) human() model.Human {
	return model.Human{
		ID:               fm.ID,
		OrganizationID:   fm.OrganizationID,
		IsUser:           fm.IsUser,
		FullName:         fm.FullName,
		Email:            fm.Email,
		JobTitle:         fm.JobTitle,
		LinkedinUsername: fm.LinkedinUsername,
	}
}

func (fm Frontmatter) organization(body string) model.Organization {
	return model.Organization{ID: fm.ID, Name: fm.Name, Description: body}
}

// frontmatterSchema validates decoded frontmatter against the embedded
// CUE definitions. A cue.Context is not safe for concurrent use.
type frontmatterSchema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

func newFrontmatterSchema() (*frontmatterSchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile frontmatter schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Frontmatter"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Frontmatter: %w", err)
	}
	return &frontmatterSchema{ctx: ctx, def: def}, nil
}

func (s *frontmatterSchema) validate(fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(fields)
	if err := v.Err(); err != nil {
		return err
	}
	return s.def.Unify(v).Validate(cue.Concrete(true))
}

// decodeDocument parses a notes Markdown file into validated frontmatter
// and body.
func (s *frontmatterSchema) decodeDocument(path string, data []byte) (Frontmatter, string, error) {
	front, body, err := splitDocument(path, data)
	if err != nil {
		return Frontmatter{}, "", err
	}

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(front), &fields); err != nil {
		return Frontmatter{}, "", newParseError(ErrCodeInvalidYAML, path, "frontmatter is not a YAML mapping", err)
	}
	if fields == nil {
		return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path, "empty frontmatter", nil)
	}
	if err := s.validate(fields); err != nil {
		return Frontmatter{}, "", newParseError(ErrCodeSchemaViolation, path, "frontmatter does not match schema", err)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return Frontmatter{}, "", newParseError(ErrCodeInvalidYAML, path, "frontmatter field types", err)
	}
	return fm, body, nil
}

// renderMemo renders a session's memo file. Participants are human ids.
func renderMemo(s model.Session, participants []string) ([]byte, error) {
	front := map[string]any{
		"id":         s.ID,
		"session_id": s.ID,
		"type":       TypeMemo,
	}
	putNonEmpty(front, "title", s.Title)
	putNonEmpty(front, "user_id", s.UserID)
	putNonEmpty(front, "created_at", s.CreatedAt)
	putNonEmpty(front, "visited_at", s.VisitedAt)
	putNonEmpty(front, "calendar_event_id", s.CalendarEventID)
	putNonEmpty(front, "enhanced_memo_html", s.EnhancedMemoHTML)
	putNonEmpty(front, "words", s.Words)
	if len(participants) > 0 {
		front["participants"] = participants
	}
	return renderDocument(front, s.RawMemoHTML)
}

// renderEnhanced renders one enhanced note file.
func renderEnhanced(n model.EnhancedNote) ([]byte, error) {
	front := map[string]any{
		"id":         n.ID,
		"session_id": n.SessionID,
		"type":       TypeEnhancedNote,
		"position":   n.Position,
	}
	putNonEmpty(front, "template_id", n.TemplateID)
	putNonEmpty(front, "title", n.Title)
	return renderDocument(front, n.Content)
}

// renderHuman renders a human file. Humans have no body.
func renderHuman(h model.Human) ([]byte, error) {
	front := map[string]any{
		"id":      h.ID,
		"type":    TypeHuman,
		"is_user": h.IsUser,
	}
	putNonEmpty(front, "organization_id", h.OrganizationID)
	putNonEmpty(front, "full_name", h.FullName)
	putNonEmpty(front, "email", h.Email)
	putNonEmpty(front, "job_title", h.JobTitle)
	putNonEmpty(front, "linkedin_username", h.LinkedinUsername)
	return renderDocument(front, "")
}

// renderOrganization renders an organization file with the description
// as its body.
func renderOrganization(o model.Organization) ([]byte, error) {
	front := map[string]any{
		"id":   o.ID,
		"type": TypeOrganization,
	}
	putNonEmpty(front, "name", o.Name)
	return renderDocument(front, o.Description)
}

func putNonEmpty(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}
