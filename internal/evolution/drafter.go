package evolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/pkg/anthropic"
)

const draftSystemPrompt = `You write review notes for operators of a data assistant.
Given a candidate improvement and the low-trust queries behind it, write two or three
plain sentences explaining what looks wrong and what a reviewer should check.
Do not invent facts that are not in the evidence. Reply with the note only.`

const maxDraftEvidence = 10

// Drafter rewrites candidate reasoning with an LLM.
type Drafter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewDrafter returns nil when no API key is configured.
func NewDrafter(cfg config.AnthropicConfig) *Drafter {
	if cfg.Key == "" {
		return nil
	}
	return newDrafter(anthropic.NewClient(cfg.Key), cfg)
}

func newDrafter(client anthropic.Client, cfg config.AnthropicConfig) *Drafter {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Drafter{client: client, model: cfg.Model, maxTokens: maxTokens}
}

// Draft returns improved reasoning for c.
func (d *Drafter) Draft(ctx context.Context, c model.EvolutionCandidate) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate type: %s\nTarget: %s\nCurrent reasoning: %s\n", c.Type, c.TargetID, c.Reasoning)
	b.WriteString("Evidence:\n")
	for i, e := range c.Impact.Evidence {
		if i == maxDraftEvidence {
			fmt.Fprintf(&b, "... and %d more\n", len(c.Impact.Evidence)-maxDraftEvidence)
			break
		}
		fmt.Fprintf(&b, "- score %.2f: %s\n", e.Score, e.NaturalQuery)
	}

	resp, err := d.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System:    draftSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", eris.Wrap(err, "evolution: draft reasoning")
	}
	resp.Usage.LogCost(d.model, "evolution.draft")

	text := resp.Text()
	if text == "" {
		return "", eris.New("evolution: draft reasoning: empty response")
	}
	return text, nil
}
