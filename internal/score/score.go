// Package score computes teacher-forced token probabilities of a target span
// under causal and masked language models.
package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/surprisal/internal/align"
	"github.com/samcharles93/surprisal/internal/logits"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

var (
	ErrNoMaskToken = errors.New("tokenizer has no mask token")
	ErrNoEOS       = errors.New("tokenizer has no eos token")
)

// TokenScore is the score of one target token.
type TokenScore struct {
	ID          int
	Probability float64
	Surprisal   float64
}

// SpanScore is the teacher-forced score of a whole target span.
type SpanScore struct {
	Tokens []TokenScore
	// Surprisal is the summed surprisal, the negative joint log-probability
	// of the span.
	Surprisal float64
	NumTokens int
}

// Value returns the span value of metric.
func (s SpanScore) Value(metric Metric) (float64, error) {
	switch metric {
	case Surprisal:
		return s.Surprisal, nil
	default:
		return 0, fmt.Errorf("unsupported metric %s", metric)
	}
}

// SurprisalOf returns -ln p, with 0 for p == 1.
func SurprisalOf(p float64) float64 {
	return surprisalFromLog(math.Log(p))
}

func surprisalFromLog(lp float64) float64 {
	s := -lp
	if s <= 0 {
		return 0
	}
	return s
}

// LogProbability returns log p(target | history) under m. Causal models see
// the most recent history ids that fit; masked-style models see
// history + mask (+ following) + eos and are read at the mask position.
func LogProbability(ctx context.Context, m model.Model, tok *tokenizer.Adapter, history []int, target int, following []int, includeFollowing bool) (float64, error) {
	input, pos, err := frame(m, tok, history, following, includeFollowing)
	if err != nil {
		return 0, err
	}
	row, err := m.Logits(ctx, input, pos)
	if err != nil {
		return 0, err
	}
	return logits.LogProb(row, target)
}

// Probability is LogProbability exponentiated.
func Probability(ctx context.Context, m model.Model, tok *tokenizer.Adapter, history []int, target int, following []int, includeFollowing bool) (float64, error) {
	lp, err := LogProbability(ctx, m, tok, history, target, following, includeFollowing)
	if err != nil {
		return 0, err
	}
	return math.Exp(lp), nil
}

func frame(m model.Model, tok *tokenizer.Adapter, history, following []int, includeFollowing bool) ([]int, int, error) {
	if m.Family().MaskedStyle() {
		mask, ok := tok.MaskID()
		if !ok {
			return nil, 0, ErrNoMaskToken
		}
		eos, ok := tok.EOSID()
		if !ok {
			return nil, 0, ErrNoEOS
		}
		input := make([]int, 0, len(history)+len(following)+2)
		input = append(input, history...)
		input = append(input, mask)
		if includeFollowing {
			input = append(input, following...)
		}
		input = append(input, eos)
		return input, slices.Index(input, mask), nil
	}

	if len(history) == 0 {
		return nil, 0, errors.New("causal scoring needs a non-empty context")
	}
	limit := tok.MaxLength
	if n := m.MaxInputLength(); n > 0 && (limit <= 0 || n < limit) {
		limit = n
	}
	input := history
	if limit > 0 && len(input) > limit {
		input = input[len(input)-limit:]
	}
	return input, len(input) - 1, nil
}

// Span walks the target of p left to right. After each position the true
// target id, not the model's prediction, is appended to the context.
func Span(ctx context.Context, m model.Model, tok *tokenizer.Adapter, p align.Partition, includeFollowing bool) (SpanScore, error) {
	if len(p.Target) == 0 {
		return SpanScore{}, align.ErrEmptyTarget
	}
	history := slices.Clone(p.Preceding)
	out := SpanScore{
		Tokens:    make([]TokenScore, 0, len(p.Target)),
		NumTokens: len(p.Target),
	}
	for _, target := range p.Target {
		if err := ctx.Err(); err != nil {
			return SpanScore{}, err
		}
		lp, err := LogProbability(ctx, m, tok, history, target, p.Following, includeFollowing)
		if err != nil {
			return SpanScore{}, err
		}
		s := surprisalFromLog(lp)
		out.Tokens = append(out.Tokens, TokenScore{ID: target, Probability: math.Exp(lp), Surprisal: s})
		out.Surprisal += s
		history = append(history, target)
	}
	return out, nil
}
