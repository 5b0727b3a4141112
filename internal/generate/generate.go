// Package generate produces card drafts. An external AI collaborator is tried first; any failure
// or empty answer falls back to deterministic templates, so callers never see an error.
package generate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Draft is an unsaved question/answer pair.
type Draft struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AIClient is the external generation collaborator.
type AIClient interface {
	GenerateCardsFromContent(ctx context.Context, content, title string, maxCount int) ([]Draft, error)
	GenerateAlternativeCards(ctx context.Context, question, answer string, count int) ([]Draft, error)
}

// Generator combines an optional AIClient with the template fallback.
type Generator struct {
	ai  AIClient
	log *zap.Logger
}

// New returns a generator. ai may be nil, in which case only templates are used.
func New(ai AIClient, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{ai: ai, log: log.Named("generate")}
}

// FromContent returns at most maxCount drafts for the given study material.
func (g *Generator) FromContent(ctx context.Context, content, title string, maxCount int) []Draft {
	if maxCount <= 0 {
		return nil
	}
	if g.ai != nil {
		drafts, err := g.ai.GenerateCardsFromContent(ctx, content, title, maxCount)
		drafts = clean(drafts, maxCount)
		switch {
		case err != nil:
			g.log.Warn("ai generation failed, using templates", zap.Error(err))
		case len(drafts) == 0:
			g.log.Info("ai generation returned nothing, using templates")
		default:
			return drafts
		}
	}
	return FromContentTemplate(content, title, maxCount)
}

// Alternatives returns up to count rephrasings of a card.
func (g *Generator) Alternatives(ctx context.Context, question, answer string, count int) []Draft {
	if count <= 0 {
		return nil
	}
	if g.ai != nil {
		drafts, err := g.ai.GenerateAlternativeCards(ctx, question, answer, count)
		drafts = clean(drafts, count)
		if err == nil && len(drafts) > 0 {
			return drafts
		}
		if err != nil {
			g.log.Warn("ai alternatives failed, using templates", zap.Error(err))
		}
	}
	return AlternativesTemplate(question, answer, count)
}

func clean(drafts []Draft, limit int) []Draft {
	out := make([]Draft, 0, len(drafts))
	for _, d := range drafts {
		d.Question = strings.TrimSpace(d.Question)
		d.Answer = strings.TrimSpace(d.Answer)
		if d.Question == "" || d.Answer == "" {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out
}

// FromContentTemplate turns definitional sentences ("X is Y") into "What is X?" cards and other
// sentences into recall prompts.
func FromContentTemplate(content, title string, maxCount int) []Draft {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "this material"
	}
	var out []Draft
	for _, s := range sentences(content) {
		if len(out) == maxCount {
			break
		}
		if d, ok := definition(s); ok {
			out = append(out, d)
			continue
		}
		if len(strings.Fields(s)) < 4 {
			continue
		}
		out = append(out, Draft{
			Question: fmt.Sprintf("What does %s say about %s?", title, leadingWords(s, 4)),
			Answer:   s,
		})
	}
	return out
}

// AlternativesTemplate rephrases a card in fixed patterns; the last one reverses it.
func AlternativesTemplate(question, answer string, count int) []Draft {
	q := strings.TrimRight(strings.TrimSpace(question), "?.! ")
	a := strings.TrimSpace(answer)
	candidates := []Draft{
		{Question: "In your own words: " + q + "?", Answer: a},
		{Question: "Explain briefly: " + q + "?", Answer: a},
		{Question: "Which question is answered by: " + a + "?", Answer: strings.TrimSpace(question)},
	}
	if count < len(candidates) {
		candidates = candidates[:count]
	}
	return candidates
}

func sentences(content string) []string {
	parts := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func definition(s string) (Draft, bool) {
	for _, verb := range []string{" is ", " are "} {
		subject, rest, ok := strings.Cut(s, verb)
		if !ok {
			continue
		}
		subject, rest = strings.TrimSpace(subject), strings.TrimSpace(rest)
		if subject == "" || rest == "" || len(strings.Fields(subject)) > 6 {
			return Draft{}, false
		}
		return Draft{
			Question: fmt.Sprintf("What %s %s?", strings.TrimSpace(verb), lowerFirst(subject)),
			Answer:   upperFirst(rest),
		}, true
	}
	return Draft{}, false
}

func leadingWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return lowerFirst(strings.Join(f, " ")) + "..."
}

func lowerFirst(s string) string {
	r := []rune(s)
	// keep acronyms like "TCP" intact
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	if len(r) > 0 {
		r[0] = unicode.ToLower(r[0])
	}
	return string(r)
}

func upperFirst(s string) string {
	r := []rune(s)
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}
