package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"blogdesk/api/internal/errs"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const (
	rewriteInstructions = "You edit passages of blog posts. Return only the rewritten passage as plain text, " +
		"with no commentary, quotes or Markdown."
	enhanceInstructions = "You improve whole blog posts written in HTML. Return only the improved HTML. Keep every " +
		"element that has a data-type attribute exactly as it is, including all of its attributes."
)

// GenAI implements Rewriter and Enhancer on the Gemini API.
type GenAI struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGenAI creates a Gemini client.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client, model: model, temperature: 0.4}, nil
}

// Rewrite rewrites a selected passage.
func (g *GenAI) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Instruction: %s\n\n", req.Instruction)
	if req.Context != "" {
		fmt.Fprintf(&prompt, "Surrounding text, for reference only:\n%s\n\n", req.Context)
	}
	fmt.Fprintf(&prompt, "Passage:\n%s", req.Text)
	return g.generate(ctx, "ai.rewrite", rewriteInstructions, prompt.String())
}

// Enhance improves a whole document.
func (g *GenAI) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	var prompt strings.Builder
	instruction := req.Instruction
	if instruction == "" {
		instruction = "Improve clarity, flow and formatting."
	}
	fmt.Fprintf(&prompt, "Instruction: %s\n\n", instruction)
	if req.Context != "" {
		fmt.Fprintf(&prompt, "About the post: %s\n\n", req.Context)
	}
	fmt.Fprintf(&prompt, "Post:\n%s", req.Content)
	return g.generate(ctx, "ai.enhance", enhanceInstructions, prompt.String())
}

func (g *GenAI) generate(ctx context.Context, op, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", errs.E(errs.Network, op, "generate content", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errs.E(errs.Network, op, "model returned no text", nil)
	}
	return text, nil
}
