// Package notify turns terminal resolve results into events for downstream
// consumers.
package notify

import (
	"time"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// Event is the wire shape published for each finished resolve call.
type Event struct {
	Query            string                  `json:"query"`
	Key              string                  `json:"key"`
	Outcome          retrieval.Outcome       `json:"outcome"`
	Success          bool                    `json:"success"`
	Model            string                  `json:"model,omitempty"`
	Source           string                  `json:"source,omitempty"`
	ArtifactPath     string                  `json:"artifact_path,omitempty"`
	OriginalURL      string                  `json:"original_url,omitempty"`
	ValidationStatus retrieval.VerdictStatus `json:"validation_status,omitempty"`
	Brand            string                  `json:"brand,omitempty"`
	Keywords         []string                `json:"keywords,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Attempts         int                     `json:"attempts"`
	DurationMS       int64                   `json:"duration_ms"`
	FinishedAt       time.Time               `json:"finished_at"`
}

// FromResult flattens a result into an event stamped with at.
func FromResult(res retrieval.Result, at time.Time) Event {
	ev := Event{
		Query:            res.Query,
		Key:              res.Key,
		Outcome:          res.Outcome,
		Success:          res.Success,
		Model:            res.Model,
		Source:           res.Source,
		ArtifactPath:     res.ArtifactPath,
		OriginalURL:      res.OriginalURL,
		ValidationStatus: res.ValidationStatus,
		Error:            res.ErrorText(),
		Attempts:         res.Attempts,
		DurationMS:       res.Duration.Milliseconds(),
		FinishedAt:       at.UTC(),
	}
	if res.Verdict != nil {
		ev.Brand = res.Verdict.Brand
		ev.Keywords = append([]string(nil), res.Verdict.Keywords...)
	}
	return ev
}
