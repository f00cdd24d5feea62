package tagging

import (
	"fmt"
	"strings"

	"horse.fit/marketpulse/internal/catalog"
	"horse.fit/marketpulse/internal/sentiment"
)

// Extractor finds instrument references in text, in priority order.
type Extractor interface {
	Extract(text string) []catalog.Reference
}

// Tags are the creation-time annotations of one item. They are computed once and
// never rewritten for a persisted item.
type Tags struct {
	Symbol    *string
	Region    string
	Sentiment *float64
}

func (t Tags) HasSymbol() bool {
	return t.Symbol != nil && strings.TrimSpace(*t.Symbol) != ""
}

// Outcome is a tagging decision plus how it was reached.
type Outcome struct {
	Tags
	Inherited   bool
	ScoreFailed bool
	ScoreErr    error
}

type Policy struct {
	extractor Extractor
	scorer    sentiment.Scorer
}

func NewPolicy(extractor Extractor, scorer sentiment.Scorer) (*Policy, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("sentiment scorer is required")
	}
	return &Policy{extractor: extractor, scorer: scorer}, nil
}

// Tag decides symbol, region and sentiment for one item.
//
// The item's own first reference wins. Otherwise a parent carrying a symbol
// passes on its symbol and its item-level region. Sentiment always comes from
// scoring this item's text and is never copied from the parent. Items with
// neither get defaultRegion and no symbol or sentiment.
//
// A scorer failure leaves Sentiment nil and sets ScoreFailed; Tag itself does
// not fail.
func (p *Policy) Tag(bodyText string, parent *Tags, defaultRegion string) Outcome {
	if refs := p.extractor.Extract(bodyText); len(refs) > 0 {
		symbol := refs[0].Symbol
		out := Outcome{Tags: Tags{Symbol: &symbol, Region: refs[0].Region}}
		p.score(&out, bodyText)
		return out
	}

	if parent != nil && parent.HasSymbol() {
		symbol := *parent.Symbol
		out := Outcome{
			Tags:      Tags{Symbol: &symbol, Region: parent.Region},
			Inherited: true,
		}
		p.score(&out, bodyText)
		return out
	}

	return Outcome{Tags: Tags{Region: strings.TrimSpace(defaultRegion)}}
}

func (p *Policy) score(out *Outcome, text string) {
	score, err := p.scorer.Score(text)
	if err != nil {
		out.ScoreFailed = true
		out.ScoreErr = err
		return
	}
	out.Sentiment = &score
}
