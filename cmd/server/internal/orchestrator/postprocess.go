package orchestrator

import (
	"context"
	"strings"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
)

// postProcessor applies punctuation then denormalization to text. Failures
// are logged and leave the text unchanged.
type postProcessor struct {
	o       *Orchestrator
	steps   map[string]bool
	enabled bool
}

func (o *Orchestrator) newPostProcessor() *postProcessor {
	p := &postProcessor{o: o, steps: make(map[string]bool)}
	p.enabled = (o.cfg.EnablePunctuation && o.caps.Punctuator != nil) ||
		(o.cfg.EnableDenormalization && o.caps.Denormalizer != nil)
	return p
}

func (p *postProcessor) apply(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	out := text
	if p.o.cfg.EnablePunctuation && p.o.caps.Punctuator != nil {
		punctuated, err := p.o.caps.Punctuator.Punctuate(ctx, out)
		if err != nil {
			return text, err
		}
		out = punctuated
	}
	if p.o.cfg.EnableDenormalization && p.o.caps.Denormalizer != nil {
		denormalized, err := p.o.caps.Denormalizer.Denormalize(ctx, out, p.o.cfg.DenormalizationStyle)
		if err != nil {
			return text, err
		}
		out = denormalized
	}
	return strings.TrimSpace(out), nil
}

// applyAll post-processes texts in parallel. Entries that fail keep their
// original text. It reports whether any entry was processed.
func (p *postProcessor) applyAll(ctx context.Context, texts []string) ([]string, bool) {
	out := append([]string(nil), texts...)
	if !p.enabled || len(texts) == 0 {
		return out, false
	}
	outcome, err := dispatch.DispatchAll(ctx, texts, p.o.cfg.MaxConcurrency,
		func(ctx context.Context, _ int, text string) (string, error) {
			return p.apply(ctx, text)
		},
		dispatch.WithLogger(p.o.logger), dispatch.WithComponent("postprocess"))
	if err != nil {
		p.o.logger.Warn("post-processing failed for every segment, keeping raw text", "error", err)
		return out, false
	}
	for _, i := range outcome.Indices {
		out[i] = outcome.Results[i]
	}
	return out, len(outcome.Indices) > 0
}

func (p *postProcessor) record(r *Result) {
	if p.o.cfg.EnablePunctuation && p.o.caps.Punctuator != nil {
		r.addStep(StepPunctuation)
	}
	if p.o.cfg.EnableDenormalization && p.o.caps.Denormalizer != nil {
		r.addStep(StepDenormalization)
	}
}

// retimeWords rewrites word texts after post-processing when the token
// count is unchanged. Otherwise word timings no longer match the text and
// are dropped.
func retimeWords(words []capability.Word, text string) []capability.Word {
	if len(words) == 0 {
		return nil
	}
	tokens := strings.Fields(text)
	if len(tokens) != len(words) {
		return nil
	}
	out := make([]capability.Word, len(words))
	for i, w := range words {
		w.Text = tokens[i]
		out[i] = w
	}
	return out
}

// trimLeadingWords keeps the trailing words that make up text after leading
// tokens were removed from it.
func trimLeadingWords(words []capability.Word, text string) []capability.Word {
	n := len(strings.Fields(text))
	if n == 0 || n > len(words) {
		return nil
	}
	return retimeWords(words[len(words)-n:], text)
}
