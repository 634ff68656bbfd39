// Package correlate selects and ranks meeting logs that can serve as evidence
// for a student's safeguarding case.
package correlate

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// Filter restricts which meeting logs are offered as evidence.
type Filter string

const (
	FilterAll          Filter = "ALL"
	FilterConcernsOnly Filter = "CONCERNS_ONLY"
)

// ParseFilter converts a CLI value to a Filter. "all" and "concerns" are
// accepted alongside the canonical names.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return FilterAll, nil
	case "CONCERNS", "CONCERNS_ONLY":
		return FilterConcernsOnly, nil
	}
	return "", fmt.Errorf("correlate: unknown filter %q (want all or concerns)", s)
}

// Select returns the records the student attended, newest first. With
// FilterConcernsOnly only Concerned records are kept. A blank student name
// selects nothing. Records are not de-duplicated and the input is not modified.
func Select(studentName string, records []schema.InteractionRecord, filter Filter) []schema.InteractionRecord {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return []schema.InteractionRecord{}
	}

	out := make([]schema.InteractionRecord, 0)
	for _, r := range records {
		if !attended(r, name) {
			continue
		}
		if filter == FilterConcernsOnly && r.Sentiment != schema.MeetingConcerned {
			continue
		}
		out = append(out, r)
	}

	// Stable so that records sharing a date keep their pool order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

func attended(r schema.InteractionRecord, name string) bool {
	return slices.ContainsFunc(r.Attendees, func(a string) bool {
		return strings.TrimSpace(a) == name
	})
}

// IDs returns the record ids in order, the snapshot stored on a case as
// related_log_ids.
func IDs(records []schema.InteractionRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// ByIDs returns the records in pool whose id appears in ids, in ids order.
// Unknown ids are skipped.
func ByIDs(pool []schema.InteractionRecord, ids []string) []schema.InteractionRecord {
	out := make([]schema.InteractionRecord, 0, len(ids))
	for _, id := range ids {
		i := slices.IndexFunc(pool, func(r schema.InteractionRecord) bool { return r.ID == id })
		if i >= 0 {
			out = append(out, pool[i])
		}
	}
	return out
}
