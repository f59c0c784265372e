package hipaa

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// ResourceType names a kind of record the registry knows how to protect.
// Using a declared type instead of free-form strings means a typo in a call
// site is a compile error, not a field that silently skips encryption.
type ResourceType string

const (
	ResourcePatientRecord   ResourceType = "patient_record"
	ResourceClinicalSession ResourceType = "clinical_session"
	ResourceInsurancePolicy ResourceType = "insurance_policy"
	ResourceLabResult       ResourceType = "lab_result"
)

// FieldMapping declares, per resource type, which fields are encrypted when a
// record is written, decrypted when it is read, and additionally search-hashed
// into a derived column. SearchHashable must be a subset of EncryptOnWrite —
// a hash column only exists for a field that is otherwise ciphertext.
type FieldMapping struct {
	EncryptOnWrite []string
	DecryptOnRead  []string
	SearchHashable []string
}

// DefaultFieldMappings returns the static mapping table for the resource
// types this deployment protects. Supporting a new resource type means
// adding one entry here; encryption call sites never change.
func DefaultFieldMappings() map[ResourceType]FieldMapping {
	return map[ResourceType]FieldMapping{
		ResourcePatientRecord: {
			EncryptOnWrite: []string{"first_name", "last_name", "ssn", "email", "phone", "address", "medical_record_number"},
			DecryptOnRead:  []string{"first_name", "last_name", "ssn", "email", "phone", "address", "medical_record_number"},
			SearchHashable: []string{"last_name", "ssn", "email", "medical_record_number"},
		},
		ResourceClinicalSession: {
			EncryptOnWrite: []string{"session_notes", "diagnosis", "treatment_plan"},
			DecryptOnRead:  []string{"session_notes", "diagnosis", "treatment_plan"},
			SearchHashable: []string{},
		},
		ResourceInsurancePolicy: {
			EncryptOnWrite: []string{"member_id", "group_number", "subscriber_name"},
			DecryptOnRead:  []string{"member_id", "group_number", "subscriber_name"},
			SearchHashable: []string{"member_id"},
		},
		ResourceLabResult: {
			EncryptOnWrite: []string{"result_value", "clinical_notes"},
			DecryptOnRead:  []string{"result_value", "clinical_notes"},
			SearchHashable: []string{},
		},
	}
}

// SearchHashField returns the derived column name that stores a field's
// search hash.
func SearchHashField(field string) string {
	return field + "_hash"
}

// Registry applies the field mapping table to records. It is built once at
// startup, immutable afterwards, and safe for unsynchronized concurrent reads.
type Registry struct {
	mappings map[ResourceType]FieldMapping
	svc      *EncryptionService
	logger   zerolog.Logger
}

// NewRegistry creates a registry over the default mapping table.
func NewRegistry(svc *EncryptionService, logger zerolog.Logger) (*Registry, error) {
	return NewRegistryWithMappings(svc, logger, DefaultFieldMappings())
}

// NewRegistryWithMappings creates a registry over an explicit mapping table,
// validating the SearchHashable-subset invariant up front so a bad table is a
// startup error, not a silent runtime gap.
func NewRegistryWithMappings(svc *EncryptionService, logger zerolog.Logger, mappings map[ResourceType]FieldMapping) (*Registry, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: registry requires an encryption service", ErrInvalidKey)
	}

	copied := make(map[ResourceType]FieldMapping, len(mappings))
	for rt, m := range mappings {
		encrypted := make(map[string]bool, len(m.EncryptOnWrite))
		for _, f := range m.EncryptOnWrite {
			encrypted[f] = true
		}
		for _, f := range m.SearchHashable {
			if !encrypted[f] {
				return nil, fmt.Errorf("field mapping for %q: search-hashable field %q is not in encryptOnWrite", rt, f)
			}
		}
		copied[rt] = FieldMapping{
			EncryptOnWrite: append([]string(nil), m.EncryptOnWrite...),
			DecryptOnRead:  append([]string(nil), m.DecryptOnRead...),
			SearchHashable: append([]string(nil), m.SearchHashable...),
		}
	}

	return &Registry{mappings: copied, svc: svc, logger: logger}, nil
}

// MappingFor looks up the field mapping for a resource type.
func (r *Registry) MappingFor(rt ResourceType) (FieldMapping, bool) {
	m, ok := r.mappings[rt]
	return m, ok
}

// EncryptFields returns a copy of record with every mapped field that is
// present and non-empty encrypted, and a search hash stored under the derived
// field name for every search-hashable field. If any single field fails to
// encrypt the whole operation fails: partially-encrypted records must never
// be persisted.
func (r *Registry) EncryptFields(rt ResourceType, record map[string]any) (map[string]any, error) {
	mapping, ok := r.mappings[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, rt)
	}

	hashable := make(map[string]bool, len(mapping.SearchHashable))
	for _, f := range mapping.SearchHashable {
		hashable[f] = true
	}

	out := make(map[string]any, len(record)+len(mapping.SearchHashable))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range mapping.EncryptOnWrite {
		value, ok := out[field].(string)
		if !ok || value == "" {
			continue
		}

		if hashable[field] {
			out[SearchHashField(field)] = r.svc.Hasher().Hash(value)
		}

		encrypted, err := r.svc.EncryptField(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrEncryptionFailed, field, err)
		}
		out[field] = encrypted
	}

	return out, nil
}

// DecryptFields returns a copy of record with every mapped field decrypted.
// A field that fails to decrypt becomes nil rather than an error, so one
// corrupt field never blocks retrieval of the rest of the record. Failures
// are logged; they surface to the caller only as absent data.
func (r *Registry) DecryptFields(rt ResourceType, record map[string]any) map[string]any {
	mapping, ok := r.mappings[rt]
	if !ok {
		return record
	}

	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range mapping.DecryptOnRead {
		value, ok := out[field].(string)
		if !ok || value == "" {
			continue
		}

		decrypted, err := r.svc.DecryptField(value)
		if err != nil {
			r.logger.Warn().
				Str("resource_type", string(rt)).
				Str("field", field).
				Err(err).
				Msg("field decryption failed, returning null for field")
			out[field] = nil
			continue
		}
		out[field] = decrypted
	}

	return out
}

// PHIFieldsIn reports which mapped PHI field names are present in a payload,
// sorted for stable audit output. The audit pipeline uses this to count PHI
// fields crossing the response boundary.
func (r *Registry) PHIFieldsIn(rt ResourceType, payload map[string]any) []string {
	mapping, ok := r.mappings[rt]
	if !ok {
		return nil
	}

	mapped := make(map[string]bool, len(mapping.EncryptOnWrite)+len(mapping.DecryptOnRead))
	for _, f := range mapping.EncryptOnWrite {
		mapped[f] = true
	}
	for _, f := range mapping.DecryptOnRead {
		mapped[f] = true
	}

	var present []string
	for k := range payload {
		if mapped[k] {
			present = append(present, k)
		}
	}
	sort.Strings(present)
	return present
}

// ResourceTypeFromPath maps a URL path segment (e.g. "patient-records") to
// its declared resource type. Unknown segments return false; those routes are
// audited as standard, non-PHI traffic.
func ResourceTypeFromPath(segment string) (ResourceType, bool) {
	switch segment {
	case "patient-records", "patients":
		return ResourcePatientRecord, true
	case "clinical-sessions", "sessions":
		return ResourceClinicalSession, true
	case "insurance-policies":
		return ResourceInsurancePolicy, true
	case "lab-results":
		return ResourceLabResult, true
	default:
		return "", false
	}
}
