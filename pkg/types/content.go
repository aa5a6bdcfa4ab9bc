package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentHash is an opaque content address plus an algorithm tag. It
// identifies a published artifact independent of any cultural
// classification.
type ContentHash struct {
	Value     string `json:"value"`
	Algorithm string `json:"algorithm,omitempty"`
}

// ParseContentHash accepts "algorithm:value" or a bare value.
func ParseContentHash(s string) (ContentHash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ContentHash{}, fmt.Errorf("empty content hash")
	}
	if algo, val, ok := strings.Cut(s, ":"); ok && algo != "" && val != "" {
		return ContentHash{Value: val, Algorithm: algo}, nil
	}
	return ContentHash{Value: s}, nil
}

// IsZero reports whether the hash carries no address.
func (h ContentHash) IsZero() bool {
	return h.Value == ""
}

// String renders "algorithm:value", or the bare value when the
// algorithm tag is absent.
func (h ContentHash) String() string {
	if h.Algorithm == "" {
		return h.Value
	}
	return h.Algorithm + ":" + h.Value
}

// Significance grades how important a piece of content is to the
// communities that hold it. Higher grades raise replication priority.
// Significance never influences who may read the content.
type Significance string

const (
	SignificanceGeneral Significance = "general"
	SignificanceNotable Significance = "notable"
	SignificanceVital   Significance = "vital"
)

// Rank returns a numeric rank for the significance grade:
// vital(3) > notable(2) > general(1) > unknown(0).
func (s Significance) Rank() int {
	switch s {
	case SignificanceVital:
		return 3
	case SignificanceNotable:
		return 2
	case SignificanceGeneral:
		return 1
	default:
		return 0
	}
}

// Reserved annotation keys that could be abused to smuggle access
// control through free-form metadata. The content exchange strips
// them before anything leaves this layer.
const (
	AnnotationAccessRestrictions = "access_restrictions"
	AnnotationInformationOnly    = "information_only"
)

// CulturalContext is optional educational metadata attached to
// published content. It deliberately has no access-control fields:
// its wire form always carries access_restrictions=false and
// information_only=true as constants, so no caller and no upstream
// can flip them.
type CulturalContext struct {
	Origin             string            `json:"origin,omitempty"`
	Significance       Significance      `json:"significance,omitempty"`
	EducationalContext string            `json:"educational_context,omitempty"`
	Annotations        map[string]string `json:"annotations,omitempty"`
}

// MarshalJSON emits the structural anti-censorship constants alongside
// the informational fields.
func (c CulturalContext) MarshalJSON() ([]byte, error) {
	type wire struct {
		Origin             string            `json:"origin,omitempty"`
		Significance       Significance      `json:"significance,omitempty"`
		EducationalContext string            `json:"educational_context,omitempty"`
		Annotations        map[string]string `json:"annotations,omitempty"`
		AccessRestrictions bool              `json:"access_restrictions"`
		InformationOnly    bool              `json:"information_only"`
	}
	return json.Marshal(wire{
		Origin:             c.Origin,
		Significance:       c.Significance,
		EducationalContext: c.EducationalContext,
		Annotations:        c.Annotations,
		AccessRestrictions: false,
		InformationOnly:    true,
	})
}

// Sanitized returns a copy with reserved annotation keys removed, in
// any casing or naming convention.
func (c *CulturalContext) Sanitized() *CulturalContext {
	if c == nil {
		return nil
	}
	out := *c
	if len(c.Annotations) == 0 {
		return &out
	}
	out.Annotations = make(map[string]string, len(c.Annotations))
	for k, v := range c.Annotations {
		if isReservedAnnotation(k) {
			continue
		}
		out.Annotations[k] = v
	}
	return &out
}

func isReservedAnnotation(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, "-", "_")
	switch k {
	case AnnotationAccessRestrictions, "accessrestrictions",
		AnnotationInformationOnly, "informationonly":
		return true
	default:
		return false
	}
}

// Content is a retrieved artifact with its metadata.
type Content struct {
	Hash      ContentHash      `json:"hash"`
	Data      []byte           `json:"data,omitempty"`
	Context   *CulturalContext `json:"cultural_context,omitempty"`
	Providers int              `json:"providers"`
}

// SyncRequest describes one synchronization round with the network.
// The exchange layer forces IncludeCulturalContent and
// PreserveAlternativeVersions to true before the plan is sent.
type SyncRequest struct {
	ID                          string            `json:"id"`
	Scope                       string            `json:"scope,omitempty"`
	Filters                     map[string]string `json:"filters,omitempty"`
	IncludeCulturalContent      bool              `json:"include_cultural_content"`
	PreserveAlternativeVersions bool              `json:"preserve_alternative_versions"`
}
