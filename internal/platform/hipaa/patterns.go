package hipaa

import "regexp"

// EntityType identifies the PHI category a pattern rule detects. The taxonomy
// is fixed; new categories require a new rule, never a free-form string.
type EntityType string

const (
	EntityName            EntityType = "name"
	EntityEmail           EntityType = "email"
	EntityPhone           EntityType = "phone"
	EntitySSN             EntityType = "ssn"
	EntityAddress         EntityType = "address"
	EntityDate            EntityType = "date"
	EntityMedicalRecordID EntityType = "medical-record-id"
	EntityInsuranceID     EntityType = "insurance-id"
	EntityDiagnosisCode   EntityType = "diagnosis-code"
)

// RiskLevel grades how sensitive a detection (or a whole scan) is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskRank = map[RiskLevel]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// maxRisk returns the higher of two risk levels. Once a scan reaches high it
// never downgrades.
func maxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// patternRule is one entry in the ordered detection table. When group is
// non-zero, that capture group (not the whole match) is the detected entity;
// this lets keyword-anchored rules like the name rule report only the PHI
// value itself.
type patternRule struct {
	entityType EntityType
	pattern    *regexp.Regexp
	group      int
	token      string
	risk       RiskLevel
}

// defaultRules returns the detection table in priority order. High-specificity
// patterns (SSN, email, phone, insurance ID, medical record ID) run before
// broader ones (address, date, diagnosis code, proper-noun names) so a value
// is classified by its most specific rule first. Rules always match against
// the original text, so a substring may still be claimed by more than one
// rule; that over-detection is deliberate — risk takes the maximum.
func defaultRules() []patternRule {
	return []patternRule{
		{
			entityType: EntitySSN,
			pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			token:      "[SSN]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityEmail,
			pattern:    regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
			token:      "[EMAIL]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityPhone,
			// The word boundaries sit inside the alternatives: a leading \b
			// can never hold before "(", which is a non-word character.
			pattern:    regexp.MustCompile(`(?:\(\d{3}\)\s*|\b\d{3}[-.\s])?\b\d{3}[-.\s]\d{4}\b`),
			token:      "[PHONE]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityInsuranceID,
			pattern:    regexp.MustCompile(`\b(?:[Ii]nsurance|[Pp]olicy|[Mm]ember)\s*(?:ID|id|[Nn]umber|[Nn]o\.?|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{5,14})\b`),
			group:      1,
			token:      "[INSURANCE_ID]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityMedicalRecordID,
			pattern:    regexp.MustCompile(`\b(?:MRN|[Mm]edical\s+[Rr]ecord(?:\s+[Nn]umber)?)\s*(?:#|[Nn]o\.?|:)?\s*([A-Z0-9][A-Z0-9-]{4,11})\b`),
			group:      1,
			token:      "[MRN]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityAddress,
			pattern:    regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][A-Za-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Boulevard|Blvd|Drive|Dr|Lane|Ln|Road|Rd|Court|Ct|Place|Pl|Way)\.?\b`),
			token:      "[ADDRESS]",
			risk:       RiskHigh,
		},
		{
			entityType: EntityDate,
			pattern:    regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b|\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`),
			token:      "[DATE]",
			risk:       RiskMedium,
		},
		{
			entityType: EntityDiagnosisCode,
			pattern:    regexp.MustCompile(`\b[A-TV-Z]\d{2}\.\d{1,4}\b`),
			token:      "[DIAGNOSIS_CODE]",
			risk:       RiskMedium,
		},
		{
			entityType: EntityName,
			pattern:    regexp.MustCompile(`\b(?:[Pp]atient|[Cc]lient|Mr\.?|Mrs\.?|Ms\.?|Dr\.?)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`),
			group:      1,
			token:      "[CLIENT_NAME]",
			risk:       RiskHigh,
		},
	}
}
