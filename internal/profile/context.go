package profile

import (
	"fmt"
	"strings"
)

// ContextOverrides lets a single chat message change what context is sent.
type ContextOverrides struct {
	Confidentiality string `json:"confidentiality,omitempty"`
	ShareWith       string `json:"share_with,omitempty"`
	IncludeProfile  *bool  `json:"include_profile,omitempty"`
}

// BuildChatContext renders the profile and sharing preferences as the
// plain-text block given to the assistant. Overrides win over profile
// defaults. The profile section is included unless IncludeProfile is false.
func BuildChatContext(p *Profile, o *ContextOverrides) string {
	if p == nil {
		p = &Profile{}
	}
	if o == nil {
		o = &ContextOverrides{}
	}

	confidentiality := deref(p.DefaultConfidentiality)
	if o.Confidentiality != "" {
		confidentiality = o.Confidentiality
	}
	shareWith := deref(p.DefaultShareWith)
	if o.ShareWith != "" {
		shareWith = o.ShareWith
	}
	includeProfile := o.IncludeProfile == nil || *o.IncludeProfile

	var parts []string
	if includeProfile {
		parts = append(parts, "User Profile Context:")
		if p.Age != nil && *p.Age > 0 {
			parts = append(parts, fmt.Sprintf("- Age: %d", *p.Age))
		}
		if v := deref(p.Gender); v != "" {
			parts = append(parts, "- Gender: "+v)
		}
		if v := deref(p.RelationshipStatus); v != "" {
			parts = append(parts, "- Relationship Status: "+v)
		}
		if v := deref(p.VictimHousing); v != "" {
			parts = append(parts, "- Housing Situation: "+v)
		}
		if p.HasTrustedSupport != nil {
			support := "No"
			if *p.HasTrustedSupport {
				support = "Yes"
			}
			parts = append(parts, "- Has Trusted Support: "+support)
		}
		if p.NumChildren != nil {
			parts = append(parts, fmt.Sprintf("- Number of Children: %d", *p.NumChildren))
		}
	}
	if confidentiality != "" {
		parts = append(parts, "Confidentiality Level: "+confidentiality)
	}
	if shareWith != "" {
		parts = append(parts, "Share With: "+shareWith)
	}
	return strings.Join(parts, "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
