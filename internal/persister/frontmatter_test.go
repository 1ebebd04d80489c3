package persister

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notesync/internal/model"
)

func newSchema(t *testing.T) *frontmatterSchema {
	t.Helper()
	s, err := newFrontmatterSchema()
	require.NoError(t, err)
	return s
}

func TestDecodeMemo(t *testing.T) {
	schema := newSchema(t)
	input := "---\nid: s1\nsession_id: s1\ntype: memo\ntitle: Standup\nuser_id: u1\nparticipants:\n  - h1\n  - h2\n---\n\nAgenda\n"

	fm, body, err := schema.decodeDocument("s1.md", []byte(input))
	require.NoError(t, err)
	assert.Equal(t, TypeMemo, fm.Type)
	assert.Equal(t, "s1", fm.ID)
	assert.Equal(t, "Standup", fm.Title)
	assert.Equal(t, "u1", fm.UserID)
	assert.Equal(t, []string{"h1", "h2"}, fm.Participants)
	assert.Equal(t, "Agenda\n", body)
}

func TestDecodeEnhancedNote(t *testing.T) {
	schema := newSchema(t)
	input := "---\nid: n1\nsession_id: s1\ntype: enhanced_note\nposition: 3\ntemplate_id: tpl\n---\n\n# Summary\n"

	fm, body, err := schema.decodeDocument("s1.enhanced.n1.md", []byte(input))
	require.NoError(t, err)
	assert.Equal(t, TypeEnhancedNote, fm.Type)
	assert.Equal(t, "s1", fm.SessionID)
	require.NotNil(t, fm.Position)
	assert.Equal(t, int64(3), *fm.Position)
	assert.Equal(t, "tpl", fm.TemplateID)
	assert.Equal(t, "# Summary\n", body)
}

func TestMemoCarriesEnhancedMemoAndWords(t *testing.T) {
	schema := newSchema(t)
	s := model.Session{
		ID:               "s1",
		Title:            "Standup",
		RawMemoHTML:      "<p>raw</p>\n",
		EnhancedMemoHTML: "<h1>Summary</h1>\n<p>enhanced</p>",
		Words:            `[{"text":"hi"}]`,
	}
	memo, err := renderMemo(s, nil)
	require.NoError(t, err)

	fm, body, err := schema.decodeDocument("s1.md", memo)
	require.NoError(t, err)
	assert.Equal(t, s, fm.session(body))
}

func TestDecodePeople(t *testing.T) {
	schema := newSchema(t)

	fm, _, err := schema.decodeFile("humans/h1.md", fileRef{kind: kindHuman, entityID: "h1"},
		[]byte("---\nid: h1\ntype: human\nis_user: true\nfull_name: Me\n---\n\n"))
	require.NoError(t, err)
	assert.Equal(t, model.Human{ID: "h1", IsUser: true, FullName: "Me"}, fm.human())

	fm, body, err := schema.decodeFile("organizations/o1.md", fileRef{kind: kindOrganization, entityID: "o1"},
		[]byte("---\nid: o1\ntype: organization\nname: Acme\n---\n\nMakes anvils.\n"))
	require.NoError(t, err)
	assert.Equal(t, model.Organization{ID: "o1", Name: "Acme", Description: "Makes anvils.\n"}, fm.organization(body))

	tests := []struct {
		name  string
		ref   fileRef
		input string
	}{
		{"human in organization file", fileRef{kind: kindOrganization, entityID: "h1"}, "---\nid: h1\ntype: human\n---\n"},
		{"human id differs", fileRef{kind: kindHuman, entityID: "h2"}, "---\nid: h1\ntype: human\n---\n"},
		{"is_user not a bool", fileRef{kind: kindHuman, entityID: "h1"}, "---\nid: h1\ntype: human\nis_user: maybe\n---\n"},
		{"organization with session", fileRef{kind: kindOrganization, entityID: "o1"}, "---\nid: o1\nsession_id: s1\ntype: organization\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := schema.decodeFile("x.md", tt.ref, []byte(tt.input))
			assert.True(t, IsParseError(err, ErrCodeSchemaViolation), "got %v", err)
		})
	}
}

func TestDecodeDocumentRejects(t *testing.T) {
	schema := newSchema(t)
	tests := []struct {
		name  string
		input string
		code  ParseErrorCode
	}{
		{"no delimiter", "plain text", ErrCodeMissingDelimiter},
		{"yaml sequence", "---\n- a\n- b\n---\n\nx", ErrCodeInvalidYAML},
		{"broken yaml", "---\nid: [unterminated\n---\n\nx", ErrCodeInvalidYAML},
		{"empty frontmatter", "---\n---\n\nx", ErrCodeSchemaViolation},
		{"unknown type", "---\nid: s1\nsession_id: s1\ntype: agenda\n---\n\nx", ErrCodeSchemaViolation},
		{"unknown field", "---\nid: s1\nsession_id: s1\ntype: memo\ncolour: red\n---\n\nx", ErrCodeSchemaViolation},
		{"memo ids differ", "---\nid: s1\nsession_id: s2\ntype: memo\n---\n\nx", ErrCodeSchemaViolation},
		{"missing id", "---\nsession_id: s1\ntype: memo\n---\n\nx", ErrCodeSchemaViolation},
		{"fractional position", "---\nid: n1\nsession_id: s1\ntype: enhanced_note\nposition: 1.5\n---\n\nx", ErrCodeSchemaViolation},
		{"title not a string", "---\nid: s1\nsession_id: s1\ntype: memo\ntitle: [a, b]\n---\n\nx", ErrCodeSchemaViolation},
		{"id with separator", "---\nid: a/b\nsession_id: a/b\ntype: memo\n---\n\nx", ErrCodeSchemaViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := schema.decodeDocument("x.md", []byte(tt.input))
			require.Error(t, err)
			assert.True(t, IsParseError(err, tt.code), "got %v", err)
		})
	}
}

func TestRenderedFilesDecode(t *testing.T) {
	schema := newSchema(t)

	memo, err := renderMemo(model.Session{
		ID:          "s1",
		Title:       "Standup",
		CreatedAt:   "2024-05-01T09:00:00Z",
		RawMemoHTML: "Agenda\n",
	}, []string{"h1", "h2"})
	require.NoError(t, err)
	fm, body, err := schema.decodeDocument("s1.md", memo)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T09:00:00Z", fm.CreatedAt)
	assert.Equal(t, []string{"h1", "h2"}, fm.Participants)
	assert.Equal(t, "Agenda\n", body)

	note, err := renderEnhanced(model.EnhancedNote{ID: "n1", SessionID: "s1", Content: "Body"})
	require.NoError(t, err)
	fm, body, err = schema.decodeDocument("s1.enhanced.n1.md", note)
	require.NoError(t, err)
	require.NotNil(t, fm.Position)
	assert.Equal(t, int64(0), *fm.Position)
	assert.Equal(t, "Body", body)
}

func TestGoldenFiles(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	memo, err := renderMemo(model.Session{
		ID:          "s1",
		Title:       "Weekly sync",
		RawMemoHTML: "Discussed the roadmap.\n",
	}, nil)
	require.NoError(t, err)
	g.Assert(t, "memo", memo)

	note, err := renderEnhanced(model.EnhancedNote{
		ID:         "n1",
		SessionID:  "s1",
		Content:    "- Ship it\n",
		TemplateID: "tpl-summary",
		Position:   2,
		Title:      "Summary",
	})
	require.NoError(t, err)
	g.Assert(t, "enhanced_note", note)

	human, err := renderHuman(model.Human{
		ID:             "h1",
		OrganizationID: "o1",
		FullName:       "Ann Lee",
		Email:          "ann@example.com",
	})
	require.NoError(t, err)
	g.Assert(t, "human", human)

	org, err := renderOrganization(model.Organization{ID: "o1", Name: "Acme", Description: "Makes anvils.\n"})
	require.NoError(t, err)
	g.Assert(t, "organization", org)

	ended := int64(2000)
	transcripts, err := renderTranscripts([]model.Transcript{{
		ID:        "t1",
		SessionID: "s1",
		StartedAt: 1000,
		EndedAt:   &ended,
		Words: []model.Word{
			{ID: "w1", TranscriptID: "t1", Text: "hello", StartMS: 0, EndMS: 400, Channel: 0},
		},
		SpeakerHints: []model.SpeakerHint{},
	}})
	require.NoError(t, err)
	g.Assert(t, "transcript", transcripts)
}
