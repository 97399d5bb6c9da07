package semantic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

const maxKeywords = 8

const promptTemplate = `You are validating product photography for a shoe catalog.
The requested shoe model is: %q.

Look at the attached image and answer with a single JSON object, no prose:
{
  "usable": boolean,            // true only if this is a clean product photo of the requested model
  "brand": string,              // best-guess brand name
  "canonical_model": string,    // best-guess canonical model name without the brand
  "keywords": [string],         // up to 8 short descriptive keywords (colors, materials, style)
  "rotate_90_clockwise": boolean // true if a 90 degree clockwise rotation gives a standard side view
}
Answer "usable": false for lifestyle shots, people wearing the shoe, collages, or a different model.`

// Prompt renders the classification instructions for model.
func Prompt(model string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(model))
}

type answer struct {
	Usable            *bool    `json:"usable"`
	Brand             string   `json:"brand"`
	CanonicalModel    string   `json:"canonical_model"`
	Keywords          []string `json:"keywords"`
	Rotate90Clockwise bool     `json:"rotate_90_clockwise"`
}

// Rejected is the verdict for unusable, malformed, or filtered answers.
func Rejected() retrieval.Verdict {
	return retrieval.Verdict{Status: retrieval.VerdictRejectedSemantic}
}

// ParseVerdict converts a model's text answer into a verdict. Malformed
// answers and answers without an explicit usable=true are rejections.
func ParseVerdict(text, model string) retrieval.Verdict {
	body := extractJSON(text)
	if body == "" {
		return Rejected()
	}
	var a answer
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Rejected()
	}
	if a.Usable == nil || !*a.Usable {
		return Rejected()
	}
	v := retrieval.Verdict{
		Status:            retrieval.VerdictApproved,
		Brand:             strings.TrimSpace(a.Brand),
		CanonicalModel:    strings.TrimSpace(a.CanonicalModel),
		Keywords:          cleanKeywords(a.Keywords),
		SuggestedRotation: a.Rotate90Clockwise,
	}
	if v.Brand == "" {
		v.Brand = retrieval.UnknownBrand
	}
	if v.CanonicalModel == "" {
		v.CanonicalModel = strings.TrimSpace(model)
	}
	return v
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func cleanKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, min(len(in), maxKeywords))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
