// Package fiscal implements the Fiscal Consolidator: the
// single point that turns an outcome code into the caregiver-facing reply
// text, preferring an LLM-generated sentence and falling back to a static
// Portuguese template when the gateway is unavailable.
package fiscal

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// languageHint is the only locale this deployment ever renders; the
// gateway call still takes it as a parameter so a future locale doesn't
// require a Consolidator signature change.
const languageHint = "pt-BR"

// Consolidator renders the final reply text for a turn's outcome code.
type Consolidator struct {
	gateway   llm.Gateway
	templates *template.Template
	log       *logrus.Logger
}

// New parses the embedded templates and builds a Consolidator. Parsing
// happens once at construction, matching the "parsed once at
// startup" requirement — a malformed template fails fast here rather than
// on a caregiver's turn.
func New(gateway llm.Gateway, log *logrus.Logger) (*Consolidator, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, sharederrors.FailedTo("parse fiscal templates", err)
	}
	return &Consolidator{gateway: gateway, templates: tmpl, log: log}, nil
}

// TemplateData is the value every outcome-code template renders against.
type TemplateData struct {
	ScheduleAllow      bool
	FinishReminderSent bool
	MissingVitals      []string
	PatientName        string
}

// Render produces the reply text for outcomeCode given state, calling the
// LLM gateway first and falling back to the matching static template on
// LLMUnavailable. Any other gateway error is returned unchanged so the
// engine can classify it.
func (c *Consolidator) Render(ctx context.Context, state llm.CompactState, outcomeCode string, data TemplateData) (string, error) {
	reply, err := c.gateway.GenerateReply(ctx, state, outcomeCode, languageHint)
	if err == nil {
		// Hard guard: the prompt already instructs the model not to
		// mention shift closing before the finish reminder fires, but the
		// generated text is still checked here — a violating reply is
		// replaced by the outcome code's static template, which never
		// carries finalization vocabulary.
		if !state.FinishReminderSent && MentionsFinalization(reply) {
			c.log.WithField("outcomeCode", outcomeCode).Warn("llm reply violated finalization guard, using static template")
			return c.renderTemplate(outcomeCode, data)
		}
		return reply, nil
	}

	var unavailable *sharederrors.LLMUnavailable
	if !errors.As(err, &unavailable) {
		return "", err
	}

	c.log.WithField("outcomeCode", outcomeCode).Warn("llm unavailable, falling back to static template")
	rendered, renderErr := c.renderTemplate(outcomeCode, data)
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

// finalizationLexicon are the shift-closing words a reply may only carry
// once finishReminderSent is true.
var finalizationLexicon = []string{
	"finalizar",
	"finalização",
	"finalizacao",
	"encerrar",
	"encerramento",
	"fechar o plantão",
	"fechamento do plantão",
}

// MentionsFinalization reports whether reply uses shift-closing
// vocabulary, for the hard guard above and the property tests that pin
// it down.
func MentionsFinalization(reply string) bool {
	lower := strings.ToLower(reply)
	for _, word := range finalizationLexicon {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// renderTemplate renders outcomeCode's static template, falling back to
// the generic "indisponivel" template if no specific one was registered —
// every outcome code reaching the consolidator MUST have a reply, per
// the "the caregiver always gets an answer" invariant.
func (c *Consolidator) renderTemplate(outcomeCode string, data TemplateData) (string, error) {
	name := outcomeCode + ".tmpl"
	if c.templates.Lookup(name) == nil {
		name = "indisponivel.tmpl"
	}

	var buf bytes.Buffer
	if err := c.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", sharederrors.FailedToWithDetails("render fiscal template", "text/template", name, err)
	}
	return buf.String(), nil
}
