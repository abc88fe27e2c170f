// Package content renders outbound message copy for leads. When an AI model
// is configured it drafts personalized text; otherwise deterministic
// templates keep the pipeline fully functional.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/platform/ai/moonshot"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const systemPrompt = `You write short, warm, professional B2B sales emails.
Respond with a JSON object: {"subject": "...", "body": "..."}.
The body is plain text, at most 120 words, no placeholders, no signature.`

var kindInstructions = map[string]string{
	"acknowledgment":     "Thank the lead for reaching out and say a specialist will be in touch shortly.",
	"follow_up":          "Gently check in, reference their interest and offer to answer questions or book a call.",
	"no_show_apology":    "They missed a scheduled meeting. Be understanding, no guilt, offer to rebook.",
	"no_show_reschedule": "Propose rescheduling the missed meeting and suggest picking any slot that suits them.",
	"research_summary":   "Summarize what we know about this company and contact for an internal sales brief.",
	"document_proposal":  "Draft a one-page service proposal for this company.",
}

// Generator implements ports.ContentGenerator.
type Generator struct {
	client  *moonshot.Client
	enabled bool
	log     *logger.Logger
}

// New creates the generator. Without an API key it stays in template mode.
func New(cfg config.AIConfig, log *logger.Logger) *Generator {
	g := &Generator{enabled: cfg.IsAIEnabled(), log: log}
	if g.enabled {
		g.client = moonshot.NewClient(moonshot.Config{
			APIKey: cfg.GetMoonshotAPIKey(),
			Model:  cfg.GetMoonshotModel(),
		})
	}
	return g
}

// Generate produces subject and body for the given kind. Model failures of
// a permanent nature fall back to templates; transient failures propagate so
// the task queue can retry with the model available again.
func (g *Generator) Generate(ctx context.Context, kind string, lead ports.LeadContext) (ports.GeneratedContent, error) {
	if !g.enabled {
		return g.template(kind, lead), nil
	}

	instruction, ok := kindInstructions[kind]
	if !ok {
		instruction = fmt.Sprintf("Write a short %s message for this lead.", strings.ReplaceAll(kind, "_", " "))
	}

	user := fmt.Sprintf("%s\n\nLead: %s %s, company %q, pipeline stage %s, score %d.",
		instruction, lead.FirstName, lead.LastName, lead.Company, lead.Stage, lead.Score)

	raw, err := g.client.Complete(ctx, systemPrompt, user, true)
	if err != nil {
		return ports.GeneratedContent{}, err
	}

	var parsed struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Body == "" {
		g.log.Warn("model returned unparseable content, using template", "kind", kind, "error", err)
		return g.template(kind, lead), nil
	}

	return ports.GeneratedContent{Subject: parsed.Subject, Body: parsed.Body}, nil
}

func (g *Generator) template(kind string, lead ports.LeadContext) ports.GeneratedContent {
	name := strings.TrimSpace(lead.FirstName)
	if name == "" {
		name = "there"
	}

	switch kind {
	case "acknowledgment":
		return ports.GeneratedContent{
			Subject: fmt.Sprintf("Thanks for reaching out, %s", name),
			Body:    fmt.Sprintf("Hi %s,\n\nThanks for getting in touch. One of our specialists is reviewing your request and will follow up shortly.\n\nTalk soon.", name),
		}
	case "no_show_apology":
		return ports.GeneratedContent{
			Subject: "Sorry we missed each other",
			Body:    fmt.Sprintf("Hi %s,\n\nLooks like our meeting didn't work out, that happens. If the timing was off, just reply and we'll find a better slot.", name),
		}
	case "no_show_reschedule":
		return ports.GeneratedContent{
			Subject: "Shall we find a new time?",
			Body:    fmt.Sprintf("Hi %s,\n\nWe'd still love to talk. Pick any time that suits you and we'll make it work.", name),
		}
	case "research_summary":
		return ports.GeneratedContent{
			Subject: fmt.Sprintf("Research brief: %s", lead.Company),
			Body:    fmt.Sprintf("Contact %s %s at %s, currently in stage %s with score %d.", lead.FirstName, lead.LastName, lead.Company, lead.Stage, lead.Score),
		}
	case "document_proposal":
		return ports.GeneratedContent{
			Subject: fmt.Sprintf("Proposal for %s", lead.Company),
			Body:    fmt.Sprintf("# Proposal for %s\n\nPrepared for %s %s.\n\nScope, pricing and timeline to be confirmed on our next call.", lead.Company, lead.FirstName, lead.LastName),
		}
	default:
		return ports.GeneratedContent{
			Subject: fmt.Sprintf("Checking in, %s", name),
			Body:    fmt.Sprintf("Hi %s,\n\nJust checking in to see whether you had any questions. Happy to jump on a quick call whenever suits you.", name),
		}
	}
}
