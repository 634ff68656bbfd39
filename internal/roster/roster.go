// Package roster loads the read-only student roster and meeting logs the
// engine correlates against. Both are plain YAML files maintained outside the
// engine.
package roster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// Layouts accepted for meeting dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Roster is the loaded student list and meeting logs.
type Roster struct {
	Students []schema.StudentIdentity
	Meetings []schema.InteractionRecord
}

type studentsFile struct {
	Students []schema.StudentIdentity `yaml:"students"`
}

type meetingsFile struct {
	Meetings []meetingYAML `yaml:"meetings"`
}

type meetingYAML struct {
	ID        string   `yaml:"id"`
	Date      string   `yaml:"date"`
	Attendees []string `yaml:"attendees"`
	Sentiment string   `yaml:"sentiment"`
	Notes     string   `yaml:"notes"`
	CreatedBy string   `yaml:"created_by"`
}

// Load reads the students and meetings files. An empty path is skipped.
func Load(studentsPath, meetingsPath string) (*Roster, error) {
	r := &Roster{
		Students: []schema.StudentIdentity{},
		Meetings: []schema.InteractionRecord{},
	}
	if studentsPath != "" {
		data, err := os.ReadFile(studentsPath)
		if err != nil {
			return nil, fmt.Errorf("roster: read students: %w", err)
		}
		if r.Students, err = ParseStudents(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("roster: %s: %w", studentsPath, err)
		}
	}
	if meetingsPath != "" {
		data, err := os.ReadFile(meetingsPath)
		if err != nil {
			return nil, fmt.Errorf("roster: read meetings: %w", err)
		}
		if r.Meetings, err = ParseMeetings(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("roster: %s: %w", meetingsPath, err)
		}
	}
	return r, nil
}

// ParseStudents decodes a students document.
func ParseStudents(rd io.Reader) ([]schema.StudentIdentity, error) {
	var f studentsFile
	if err := decode(rd, &f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Students))
	out := make([]schema.StudentIdentity, 0, len(f.Students))
	for i, s := range f.Students {
		s.ID = strings.TrimSpace(s.ID)
		s.FullName = strings.TrimSpace(s.FullName)
		s.ClassName = strings.TrimSpace(s.ClassName)
		if s.ID == "" {
			return nil, fmt.Errorf("students[%d]: id is required", i)
		}
		if s.FullName == "" {
			return nil, fmt.Errorf("students[%d]: full_name is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("students[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out, nil
}

// ParseMeetings decodes a meetings document. Attendee names are trimmed and
// blank ones dropped.
func ParseMeetings(rd io.Reader) ([]schema.InteractionRecord, error) {
	var f meetingsFile
	if err := decode(rd, &f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Meetings))
	out := make([]schema.InteractionRecord, 0, len(f.Meetings))
	for i, m := range f.Meetings {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("meetings[%d]: id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("meetings[%d]: duplicate id %q", i, id)
		}
		seen[id] = true

		date, err := parseDate(m.Date)
		if err != nil {
			return nil, fmt.Errorf("meetings[%d]: %w", i, err)
		}
		sentiment, err := schema.ParseMeetingSentiment(m.Sentiment)
		if err != nil {
			return nil, fmt.Errorf("meetings[%d]: %w", i, err)
		}
		attendees := make([]string, 0, len(m.Attendees))
		for _, a := range m.Attendees {
			if a = strings.TrimSpace(a); a != "" {
				attendees = append(attendees, a)
			}
		}
		out = append(out, schema.InteractionRecord{
			ID:        id,
			Date:      date,
			Attendees: attendees,
			Sentiment: sentiment,
			Notes:     m.Notes,
			CreatedBy: strings.TrimSpace(m.CreatedBy),
		})
	}
	return out, nil
}

func decode(rd io.Reader, v any) error {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD or RFC 3339", s)
}

// Names returns every student's full name, in roster order.
func (r *Roster) Names() []string {
	out := make([]string, len(r.Students))
	for i, s := range r.Students {
		out[i] = s.FullName
	}
	return out
}

// Student finds a student by full name, ignoring case and surrounding space.
func (r *Roster) Student(name string) (schema.StudentIdentity, bool) {
	name = strings.TrimSpace(name)
	for _, s := range r.Students {
		if strings.EqualFold(s.FullName, name) {
			return s, true
		}
	}
	return schema.StudentIdentity{}, false
}
