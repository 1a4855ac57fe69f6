package oracle

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemPrompt instructs the model to answer with the judgment object
// DecodeJudgment expects. Deployments normally override it with prompt_path.
const DefaultSystemPrompt = `You screen scientific paper records for topical relevance.
Read the title and abstract and decide whether the paper is relevant.

Respond with a single JSON object and nothing else:
{
  "type": "research" | "review" | "discussion" | "other",
  "reasoning": "<short justification>",
  "result": "valid" | "doubted" | "not_valid",
  "confidence_score": <number from 0 to 10>,
  "theory": "<named theory or null>"
}

Use "doubted" when the record is ambiguous or the abstract is insufficient.`

// LoadPrompt returns the prompt stored at path, or DefaultSystemPrompt when
// path is empty.
func LoadPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}
