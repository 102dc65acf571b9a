// Package toy provides a deterministic in-process model provider: a byte
// tokenizer and a small embedding/projection language model whose weights
// are seeded from the model reference.
package toy

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

const defaultHidden = 16

// Provider serves toy models for any id. Ids containing "masked" declare a
// masked-LM architecture, every other id a causal one.
type Provider struct {
	Hidden int
}

func NewProvider() *Provider {
	return &Provider{Hidden: defaultHidden}
}

func (p *Provider) Tokenizer(ctx context.Context, ref model.Ref) (tokenizer.Backend, tokenizer.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, tokenizer.Config{}, err
	}
	if ref.ID == "" {
		return nil, tokenizer.Config{}, fmt.Errorf("empty model id")
	}
	return NewByteTokenizer(), Config(), nil
}

func (p *Provider) Model(ctx context.Context, ref model.Ref, family model.Family, _ model.Device) (model.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	got, err := model.Classify(family, archConfig(ref))
	if err != nil {
		return nil, err
	}
	hidden := p.Hidden
	if hidden <= 0 {
		hidden = defaultHidden
	}
	return &Model{
		lm:     NewToyLM(baseVocab, hidden, seedFor(ref)),
		family: got,
	}, nil
}

// List returns example model ids.
func (p *Provider) List(ctx context.Context) ([]string, error) {
	return []string{"toy/causal-lm", "toy/masked-lm"}, ctx.Err()
}

func archConfig(ref model.Ref) *model.HFConfig {
	if strings.Contains(strings.ToLower(ref.ID), "masked") {
		return &model.HFConfig{ModelType: "toy-encoder", Architectures: []string{"ToyForMaskedLM"}, MaxPosition: 512}
	}
	return &model.HFConfig{ModelType: "toy", Architectures: []string{"ToyForCausalLM"}, MaxPosition: 512}
}

func seedFor(ref model.Ref) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ref.String()))
	return int64(h.Sum64() >> 1)
}

// Model adapts ToyLM to model.Model.
type Model struct {
	lm     *ToyLM
	family model.Family
}

func (m *Model) Family() model.Family { return m.family }

func (m *Model) MaxInputLength() int { return 512 }

func (m *Model) Logits(ctx context.Context, ids []int, pos int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pos < 0 || pos >= len(ids) {
		return nil, fmt.Errorf("position %d outside input of length %d", pos, len(ids))
	}
	return m.lm.Forward(ids, pos, m.family == model.Causal), nil
}

func (m *Model) Close() error { return nil }
