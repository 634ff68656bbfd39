// Package profile defines safeguarding guidance profiles that modulate the
// report generation prompt. Each profile provides a SystemPromptAddendum that
// is appended to the system prompt sent to the LLM.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Profile describes the statutory framework a generated report is written against.
type Profile struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
	// DefaultPolicies are cited in policies_applied when the model cites none.
	DefaultPolicies []string
}

// builtins is the registry of built-in profiles keyed by name.
var builtins = map[string]Profile{
	"general": {
		Name:        "general",
		Description: "Default profile; framework-neutral safeguarding practice.",
		SystemPromptAddendum: "Apply general child-protection practice. Distinguish observed facts " +
			"from allegations and opinions. When evidence is ambiguous, say so in evidence_analysis " +
			"rather than guessing.",
		DefaultPolicies: []string{"School Child Protection Policy"},
	},
	"kcsie": {
		Name:        "kcsie",
		Description: "Keeping Children Safe in Education (England) statutory guidance.",
		SystemPromptAddendum: "Write for a Designated Safeguarding Lead in an English school working " +
			"under Keeping Children Safe in Education and Working Together to Safeguard Children. " +
			"Cite the relevant KCSIE part in policies_applied. If the incident indicates risk of " +
			"significant harm, the next steps MUST include a referral to children's social care " +
			"within one working day. Peer-on-peer (child-on-child) abuse must be named as such.",
		DefaultPolicies: []string{"KCSIE Part One", "Working Together to Safeguard Children"},
	},
	"early-years": {
		Name:        "early-years",
		Description: "Early years settings; EYFS safeguarding and welfare requirements.",
		SystemPromptAddendum: "The child is in an early years setting. Apply the EYFS safeguarding " +
			"and welfare requirements. Treat unexplained marks, toileting concerns and changes in " +
			"attachment behaviour as significant. Witness questions must be suitable for staff and " +
			"parents, never for the child directly.",
		DefaultPolicies: []string{"EYFS Safeguarding and Welfare Requirements"},
	},
}

// Names returns the built-in profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load returns the named built-in profile or an error if the name is unknown.
func Load(name string) (Profile, error) {
	p, ok := builtins[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}
