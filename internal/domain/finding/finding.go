package finding

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/validation"
)

// Severity is an ordered ranking of finding impact
type Severity int

const (
	SeverityInformational Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "informational"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a wire value to a Severity
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "informational":
		return SeverityInformational, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, errors.NewValidationError("INVALID_SEVERITY", "unknown severity "+s)
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Finding is one atomic piece of evidence produced by an agent.
// Immutable once emitted; the aggregator merges findings, never mutates them.
type Finding struct {
	FindingID        uuid.UUID `json:"finding_id"`
	Severity         Severity  `json:"severity"`
	Domain           string    `json:"domain"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	AffectedEntities []string  `json:"affected_entities,omitempty"`
	EvidenceIDs      []string  `json:"evidence_ids,omitempty"`
	ConfidenceScore  float64   `json:"confidence_score"`
	Timestamp        time.Time `json:"timestamp"`
}

// New allocates a finding for the given domain
func New(domain string, severity Severity, title, description string, confidence float64) (*Finding, error) {
	if domain == "" {
		return nil, errors.NewValidationError("INVALID_FINDING", "finding domain cannot be empty")
	}

	if title == "" {
		return nil, errors.NewValidationError("INVALID_FINDING", "finding title cannot be empty")
	}

	if err := validation.ValidateConfidence(confidence); err != nil {
		return nil, errors.NewValidationError("INVALID_FINDING", err.Error())
	}

	return &Finding{
		FindingID:       uuid.New(),
		Severity:        severity,
		Domain:          domain,
		Title:           title,
		Description:     description,
		ConfidenceScore: confidence,
		Timestamp:       time.Now(),
	}, nil
}

// MustNew is New for compile-time constant arguments. It panics on invalid
// input, which can only mean a programming error at the call site.
func MustNew(domain string, severity Severity, title, description string, confidence float64) *Finding {
	f, err := New(domain, severity, title, description, confidence)
	if err != nil {
		panic(err)
	}
	return f
}

// WithAffectedEntities attaches affected entity identifiers
func (f *Finding) WithAffectedEntities(entities ...string) *Finding {
	f.AffectedEntities = append(f.AffectedEntities, entities...)
	return f
}

// WithEvidence attaches evidence references
func (f *Finding) WithEvidence(ids ...string) *Finding {
	f.EvidenceIDs = append(f.EvidenceIDs, ids...)
	return f
}

// Ranks orders a before b for aggregated output: higher severity first, then
// higher confidence. Exact ties keep insertion order, so the sort using this
// comparator must be stable.
func Ranks(a, b *Finding) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return a.ConfidenceScore > b.ConfidenceScore
}
