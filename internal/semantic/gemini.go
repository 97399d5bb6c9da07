package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const classifierTemperature = float32(0.1)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini classifies images with the Gemini API.
type Gemini struct {
	models *genai.Models
	model  string
	logger *zap.Logger
}

// NewGemini builds a Gemini-backed classifier.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: client.Models, model: model, logger: logger.Named("gemini")}, nil
}

// Classify implements retrieval.SemanticValidator.
func (g *Gemini) Classify(ctx context.Context, data []byte, model string) (retrieval.Verdict, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, imaging.MIMEType(data)),
			genai.NewPartFromText(Prompt(model)),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(classifierTemperature),
	})
	if err != nil {
		return retrieval.Verdict{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if reason := blockedReason(resp); reason != "" {
		g.logger.Info("gemini response filtered", zap.String("model", model), zap.String("reason", reason))
		return Rejected(), nil
	}
	verdict := ParseVerdict(resp.Text(), model)
	g.logger.Debug("gemini verdict",
		zap.String("model", model),
		zap.String("status", string(verdict.Status)),
		zap.String("brand", verdict.Brand))
	return verdict, nil
}

func blockedReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return "empty response"
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return string(fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "no candidates"
	}
	switch fr := resp.Candidates[0].FinishReason; fr {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return string(fr)
	}
	return ""
}
