package score

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/surprisal/internal/align"
	"github.com/samcharles93/surprisal/internal/logits"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

const vocabJSON = `{
	"added_tokens": [
		{"id": 6, "content": "<|endoftext|>", "special": true},
		{"id": 9, "content": "<s>", "special": true},
		{"id": 10, "content": "</s>", "special": true},
		{"id": 11, "content": "<mask>", "special": true}
	],
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"model": {
		"type": "BPE",
		"ignore_merges": true,
		"vocab": {
			"The": 0, "Ġdog": 1, "Ġchased": 2, "Ġthe": 3, "Ġcat": 4, ".": 5,
			"<|endoftext|>": 6, "Ġ": 7, "chased": 8
		},
		"merges": []
	}
}`

func newTokenizer(t *testing.T, cfg tokenizer.Config) *tokenizer.Adapter {
	t.Helper()
	b, err := tokenizer.LoadBPEBytes([]byte(vocabJSON), cfg)
	require.NoError(t, err)
	a, err := tokenizer.Prepare(b, cfg)
	require.NoError(t, err)
	return a
}

func causalTokenizer(t *testing.T) *tokenizer.Adapter {
	return newTokenizer(t, tokenizer.Config{BOS: "<|endoftext|>", EOS: "<|endoftext|>"})
}

func maskedTokenizer(t *testing.T) *tokenizer.Adapter {
	return newTokenizer(t, tokenizer.Config{BOS: "<s>", EOS: "</s>", Mask: "<mask>"})
}

type call struct {
	ids []int
	pos int
}

// recordingModel returns logits that depend only on the input length and
// records every call.
type recordingModel struct {
	family model.Family
	vocab  int
	maxLen int
	calls  []call
}

func (m *recordingModel) Family() model.Family { return m.family }
func (m *recordingModel) MaxInputLength() int  { return m.maxLen }
func (m *recordingModel) Close() error         { return nil }

func (m *recordingModel) Logits(_ context.Context, ids []int, pos int) ([]float32, error) {
	m.calls = append(m.calls, call{ids: slices.Clone(ids), pos: pos})
	return rowFor(len(ids), m.vocab), nil
}

func rowFor(n, vocab int) []float32 {
	row := make([]float32, vocab)
	for j := range row {
		row[j] = float32((n*7+j*3)%11) / 4
	}
	return row
}

func TestSpanSingleTokenCausal(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	m := &recordingModel{family: model.Causal, vocab: tok.VocabSize()}

	p, err := align.Align("The dog *chased* the cat.", tok)
	require.NoError(t, err)
	require.Equal(t, []int{2}, p.Target)

	got, err := Span(context.Background(), m, tok, p, false)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumTokens)

	require.Len(t, m.calls, 1)
	assert.Equal(t, []int{6, 0, 1}, m.calls[0].ids)
	assert.Equal(t, 2, m.calls[0].pos)

	lp, err := logits.LogProb(rowFor(3, tok.VocabSize()), 2)
	require.NoError(t, err)
	assert.InDelta(t, -lp, got.Surprisal, 1e-12)
	assert.InDelta(t, math.Exp(lp), got.Tokens[0].Probability, 1e-12)

	v, err := got.Value(Surprisal)
	require.NoError(t, err)
	assert.Equal(t, got.Surprisal, v)
}

func TestSpanTeacherForcing(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	m := &recordingModel{family: model.Causal, vocab: tok.VocabSize()}

	p, err := align.Align("The dog *chased the* cat.", tok)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, p.Target)

	got, err := Span(context.Background(), m, tok, p, false)
	require.NoError(t, err)
	require.Len(t, m.calls, 2)
	assert.Equal(t, []int{6, 0, 1}, m.calls[0].ids)
	assert.Equal(t, []int{6, 0, 1, 2}, m.calls[1].ids)

	var sum float64
	for _, ts := range got.Tokens {
		assert.GreaterOrEqual(t, ts.Surprisal, 0.0)
		sum += ts.Surprisal
	}
	assert.InDelta(t, sum, got.Surprisal, 1e-12)
	assert.Equal(t, 2, got.NumTokens)
}

func TestSpanDeterministic(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)

	p, err := align.Align("The dog *chased the cat.*", tok)
	require.NoError(t, err)

	a, err := Span(context.Background(), &recordingModel{family: model.Causal, vocab: tok.VocabSize()}, tok, p, false)
	require.NoError(t, err)
	b, err := Span(context.Background(), &recordingModel{family: model.Causal, vocab: tok.VocabSize()}, tok, p, false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMaskedFraming(t *testing.T) {
	t.Parallel()
	tok := maskedTokenizer(t)

	p, err := align.Align("The dog *chased the* cat.", tok)
	require.NoError(t, err)
	require.Equal(t, []int{9, 0, 1}, p.Preceding)

	for _, family := range []model.Family{model.Masked, model.CausalMask} {
		m := &recordingModel{family: family, vocab: tok.VocabSize()}
		_, err := Span(context.Background(), m, tok, p, false)
		require.NoError(t, err)
		require.Len(t, m.calls, 2)
		assert.Equal(t, []int{9, 0, 1, 11, 10}, m.calls[0].ids)
		assert.Equal(t, 3, m.calls[0].pos)
		assert.Equal(t, []int{9, 0, 1, 2, 11, 10}, m.calls[1].ids)
		assert.Equal(t, 4, m.calls[1].pos)
	}

	m := &recordingModel{family: model.Masked, vocab: tok.VocabSize()}
	_, err = Span(context.Background(), m, tok, p, true)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 0, 1, 11, 4, 5, 10}, m.calls[0].ids)
	assert.Equal(t, 3, m.calls[0].pos)
}

func TestMaskedRequiresMaskAndEOS(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	m := &recordingModel{family: model.Masked, vocab: tok.VocabSize()}

	_, err := Probability(context.Background(), m, tok, []int{6, 0}, 1, nil, false)
	require.ErrorIs(t, err, ErrNoMaskToken)

	noEOS := newTokenizer(t, tokenizer.Config{BOS: "<s>", Mask: "<mask>"})
	_, err = Probability(context.Background(), m, noEOS, []int{9, 0}, 1, nil, false)
	require.ErrorIs(t, err, ErrNoEOS)
}

func TestCausalTruncation(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	tok.MaxLength = 3
	m := &recordingModel{family: model.Causal, vocab: tok.VocabSize()}

	_, err := Probability(context.Background(), m, tok, []int{6, 0, 1, 2, 3}, 4, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, m.calls[0].ids)
	assert.Equal(t, 2, m.calls[0].pos)

	m = &recordingModel{family: model.Causal, vocab: tok.VocabSize(), maxLen: 2}
	_, err = Probability(context.Background(), m, tok, []int{6, 0, 1, 2, 3}, 4, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, m.calls[0].ids)
}

func TestProbabilityInUnitInterval(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	m := &recordingModel{family: model.Causal, vocab: tok.VocabSize()}

	for target := range tok.VocabSize() {
		p, err := Probability(context.Background(), m, tok, []int{6, 0}, target, nil, false)
		require.NoError(t, err)
		assert.Greater(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		assert.GreaterOrEqual(t, SurprisalOf(p), 0.0)
	}
}

func TestSurprisalOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, SurprisalOf(1))
	assert.False(t, math.Signbit(SurprisalOf(1)))
	assert.InDelta(t, math.Ln2, SurprisalOf(0.5), 1e-12)
	assert.True(t, math.IsInf(SurprisalOf(0), 1))
}

func TestSpanCancelled(t *testing.T) {
	t.Parallel()
	tok := causalTokenizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := align.Partition{Preceding: []int{6}, Target: []int{0}}
	_, err := Span(ctx, &recordingModel{family: model.Causal, vocab: tok.VocabSize()}, tok, p, false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseMetrics(t *testing.T) {
	t.Parallel()

	metrics, ignored := ParseMetrics([]string{"surprisal", "entropy", "Surprisal"})
	assert.Equal(t, []Metric{Surprisal}, metrics)
	assert.Equal(t, []string{"entropy"}, ignored)
	assert.Equal(t, "Surprisal", Surprisal.DisplayName())
	assert.Equal(t, "surprisal", Surprisal.String())

	metrics, _ = ParseMetrics([]string{"perplexity"})
	assert.Empty(t, metrics)
}

// BERT style uncased WordPiece vocabulary, loaded through the fast backend.
const wordPieceJSON = `{
	"added_tokens": [
		{"id": 0, "content": "[PAD]", "special": true},
		{"id": 1, "content": "[UNK]", "special": true},
		{"id": 2, "content": "[CLS]", "special": true},
		{"id": 3, "content": "[SEP]", "special": true},
		{"id": 4, "content": "[MASK]", "special": true}
	],
	"normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": null, "lowercase": true},
	"pre_tokenizer": {"type": "BertPreTokenizer"},
	"post_processor": {"type": "BertProcessing", "sep": ["[SEP]", 3], "cls": ["[CLS]", 2]},
	"decoder": {"type": "WordPiece", "prefix": "##", "cleanup": true},
	"model": {
		"type": "WordPiece",
		"unk_token": "[UNK]",
		"continuing_subword_prefix": "##",
		"max_input_chars_per_word": 100,
		"vocab": {
			"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "[MASK]": 4,
			"the": 5, "dog": 6, "chased": 7, "cat": 8, ".": 9, "##s": 10
		}
	}
}`

func TestSpanMaskedWordPiece(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(wordPieceJSON), 0o644))
	b, cfg, err := tokenizer.Load(tokenizer.Files{TokenizerJSON: path}, true)
	require.NoError(t, err)
	tok, err := tokenizer.Prepare(b, cfg)
	require.NoError(t, err)
	m := &recordingModel{family: model.Masked, vocab: tok.VocabSize()}

	p, err := align.Align("The dog *chased* the cat.", tok)
	require.NoError(t, err)

	got, err := Span(context.Background(), m, tok, p, false)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumTokens)

	require.Len(t, m.calls, 1)
	assert.Equal(t, []int{2, 5, 6, 4, 3}, m.calls[0].ids)
	assert.Equal(t, 3, m.calls[0].pos)

	lp, err := logits.LogProb(rowFor(5, tok.VocabSize()), 7)
	require.NoError(t, err)
	assert.InDelta(t, -lp, got.Surprisal, 1e-12)
}
