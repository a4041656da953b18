package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"
)

type Classification struct {
	Dominant   string  `json:"dominant_emotion"`
	Confidence float64 `json:"confidence"`
	Sentiment  string  `json:"sentiment"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Completer is the slice of an LLM client the classifier needs.
type Completer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

const classifierPrompt = `
You are the emotion classifier for EmotiBot.
Your ONLY job is to label the emotional tone of the user's message.

RULES:
1. Do NOT converse.
2. Do NOT add explanations.
3. Output ONLY JSON. No markdown.

OUTPUT FORMAT:
{
  "dominant_emotion": "<one of: %s, neutral>",
  "confidence": <number between 0 and 1>,
  "sentiment": "<positive | negative | neutral>"
}

If the tone is unclear, answer "neutral" with confidence 0.
`

type LLMClassifier struct {
	llm     Completer
	allowed map[string]bool
	system  string
}

func NewLLMClassifier(llm Completer, lex Lexicon) *LLMClassifier {
	names := lex.Names()
	allowed := make(map[string]bool, len(names)+1)
	for _, n := range names {
		allowed[n] = true
	}
	allowed[Neutral] = true

	return &LLMClassifier{
		llm:     llm,
		allowed: allowed,
		system:  fmt.Sprintf(classifierPrompt, strings.Join(names, ", ")),
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	raw, err := c.llm.Generate(ctx, c.system, text)
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	content := stripFence(raw)
	log.Debug("Classified", "data", content)

	var out Classification
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Classification{}, fmt.Errorf("unmarshal classification: %w (raw: %s)", err, content)
	}

	out.Dominant = strings.ToLower(strings.TrimSpace(out.Dominant))
	if !c.allowed[out.Dominant] {
		return Classification{}, fmt.Errorf("unknown emotion %q", out.Dominant)
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	switch out.Sentiment = strings.ToLower(strings.TrimSpace(out.Sentiment)); out.Sentiment {
	case LabelPositive, LabelNegative, LabelNeutral:
	default:
		out.Sentiment = ""
	}
	return out, nil
}

// stripFence drops a ```json fence some models add despite instructions.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
