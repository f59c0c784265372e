package hipaa

import (
	"strings"

	"github.com/rs/zerolog"
)

// PHIEntity is a single detection: what was found, where in the original
// text, and how sensitive it is. Entities are transient scan output and are
// never persisted.
type PHIEntity struct {
	Type             EntityType `json:"type"`
	OriginalValue    string     `json:"original_value"`
	ReplacementToken string     `json:"replacement_token"`
	Offset           int        `json:"offset"`
	Length           int        `json:"length"`
	RiskWeight       RiskLevel  `json:"risk_weight"`
}

// ScanResult is the output of one detector pass over a text payload.
// Entity offsets refer to the original text; the anonymized copy has
// detected values replaced by tokens, so offsets do not map onto it.
type ScanResult struct {
	Original       string      `json:"original"`
	Anonymized     string      `json:"anonymized"`
	Entities       []PHIEntity `json:"entities"`
	RiskLevel      RiskLevel   `json:"risk_level"`
	RequiresReview bool        `json:"requires_review"`
}

// Detector scans arbitrary text for PHI using the ordered pattern table.
// It is safe for concurrent use; a scan holds no shared mutable state.
type Detector struct {
	rules  []patternRule
	logger zerolog.Logger
}

// NewDetector creates a Detector with the default pattern rules.
func NewDetector(logger zerolog.Logger) *Detector {
	return &Detector{
		rules:  defaultRules(),
		logger: logger,
	}
}

// Scan runs every rule, in priority order, against the original text.
// Detected values are replaced by their tokens in a working copy; the overall
// risk level is the maximum risk weight of any match. Because rules always
// match the original text, two rule types can both claim the same substring —
// over-detection is the intended conservative behavior.
//
// Scan never fails the caller's request. An internal error degrades to an
// empty, low-risk result and is logged; blocking a request because its
// protective scan broke would be the worse outcome.
func (d *Detector) Scan(text string) (result ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Msg("phi detector degraded: internal error during scan")
			result = ScanResult{
				Original:   text,
				Anonymized: text,
				Entities:   []PHIEntity{},
				RiskLevel:  RiskLow,
			}
		}
	}()

	anonymized := text
	entities := []PHIEntity{}
	risk := RiskLow

	for _, rule := range d.rules {
		matches := rule.pattern.FindAllStringSubmatchIndex(text, -1)
		for _, m := range matches {
			start, end := m[0], m[1]
			if rule.group > 0 {
				gs, ge := m[2*rule.group], m[2*rule.group+1]
				if gs < 0 {
					continue
				}
				start, end = gs, ge
			}

			value := text[start:end]
			entities = append(entities, PHIEntity{
				Type:             rule.entityType,
				OriginalValue:    value,
				ReplacementToken: rule.token,
				Offset:           start,
				Length:           end - start,
				RiskWeight:       rule.risk,
			})
			risk = maxRisk(risk, rule.risk)

			// Replace by value in the working copy. Offsets against the copy
			// drift as earlier rules substitute tokens, so positional
			// replacement is not an option here.
			anonymized = strings.ReplaceAll(anonymized, value, rule.token)
		}
	}

	return ScanResult{
		Original:       text,
		Anonymized:     anonymized,
		Entities:       entities,
		RiskLevel:      risk,
		RequiresReview: risk == RiskHigh,
	}
}
