package retrieval

import (
	"strings"
	"time"
)

// VerdictStatus is the outcome of validating one candidate image.
type VerdictStatus string

// Verdict status values reported to callers.
const (
	VerdictRejectedStructural VerdictStatus = "rejected_structural"
	VerdictRejectedSemantic   VerdictStatus = "rejected_semantic"
	VerdictApproved           VerdictStatus = "approved"
	VerdictBypassed           VerdictStatus = "bypassed"
)

// UnknownBrand labels verdicts synthesized without a model opinion.
const UnknownBrand = "Unknown"

// Verdict carries the validation status and, when accepted, the metadata
// extracted by the semantic validator.
type Verdict struct {
	Status            VerdictStatus `json:"status"`
	Brand             string        `json:"brand,omitempty"`
	CanonicalModel    string        `json:"canonical_model,omitempty"`
	Keywords          []string      `json:"keywords,omitempty"`
	SuggestedRotation bool          `json:"suggested_rotation"`
}

// Accepted reports whether the verdict lets the candidate proceed to
// normalization.
func (v Verdict) Accepted() bool {
	return v.Status == VerdictApproved || v.Status == VerdictBypassed
}

// Label returns the human-readable "Brand Model" name, skipping an unknown brand.
func (v Verdict) Label() string {
	parts := make([]string, 0, 2)
	if b := strings.TrimSpace(v.Brand); b != "" && !strings.EqualFold(b, UnknownBrand) {
		parts = append(parts, b)
	}
	if m := strings.TrimSpace(v.CanonicalModel); m != "" {
		parts = append(parts, m)
	}
	return strings.Join(parts, " ")
}

// BypassVerdict synthesizes the low-confidence verdict used when the semantic
// validator stayed unavailable and bypass is enabled.
func BypassVerdict(query string) Verdict {
	return Verdict{
		Status:         VerdictBypassed,
		Brand:          UnknownBrand,
		CanonicalModel: strings.TrimSpace(query),
	}
}

// Outcome is the terminal state of one resolve call.
type Outcome string

// Terminal outcomes.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeInvalid  Outcome = "invalid_query"
)

// SourceCache is the source name reported for cache hits.
const SourceCache = "cache"

// Stage tags an intermediate artifact with the pipeline step that produced it.
type Stage string

// Intermediate artifact stages.
const (
	StageRaw            Stage = "raw"
	StageValidatorInput Stage = "validator-input"
	StageApprovedRaw    Stage = "approved-raw"
	StageRejected       Stage = "rejected"
)

// Artifacts records where intermediate buffers were persisted, if anywhere.
type Artifacts struct {
	Raw            string `json:"raw,omitempty"`
	ValidatorInput string `json:"validator_input,omitempty"`
	ApprovedRaw    string `json:"approved_raw,omitempty"`
	Rejected       string `json:"rejected,omitempty"`
}

// Set records path under the given stage.
func (a *Artifacts) Set(stage Stage, path string) {
	if path == "" {
		return
	}
	switch stage {
	case StageRaw:
		a.Raw = path
	case StageValidatorInput:
		a.ValidatorInput = path
	case StageApprovedRaw:
		a.ApprovedRaw = path
	case StageRejected:
		a.Rejected = path
	}
}

// Result is the end-to-end outcome of one resolve call. Exactly one of
// ArtifactPath and Err is set once the pipeline reaches a terminal state.
type Result struct {
	Query            string
	Key              string
	Success          bool
	Outcome          Outcome
	Model            string
	Source           string
	ArtifactPath     string
	OriginalURL      string
	Artifacts        Artifacts
	ValidationStatus VerdictStatus
	Verdict          *Verdict
	Err              error
	Attempts         int
	Duration         time.Duration
}

// ErrorText returns the error message or an empty string.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
