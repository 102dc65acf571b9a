package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// GPT-2 style byte-level vocabulary; "Ġ" marks a leading space.
const byteLevelJSON = `{
	"added_tokens": [{"id": 6, "content": "<|endoftext|>", "special": true}],
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"model": {
		"type": "BPE",
		"ignore_merges": true,
		"vocab": {
			"The": 0, "Ġdog": 1, "Ġchased": 2, "Ġthe": 3, "Ġcat": 4, ".": 5,
			"<|endoftext|>": 6, "Ġ": 7
		},
		"merges": []
	}
}`

// Same vocabulary without any special token.
const bareJSON = `{
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"model": {
		"type": "BPE",
		"ignore_merges": true,
		"vocab": {"The": 0, "Ġdog": 1, "Ġchased": 2, "Ġthe": 3, "Ġcat": 4, ".": 5},
		"merges": []
	}
}`

// SentencePiece style vocabulary; "▁" marks a leading space and every
// encoding starts with <s>.
const metaspaceJSON = `{
	"added_tokens": [
		{"id": 0, "content": "<unk>", "special": true},
		{"id": 1, "content": "<s>", "special": true},
		{"id": 2, "content": "</s>", "special": true}
	],
	"normalizer": {"type": "Sequence", "normalizers": [
		{"type": "Prepend", "prepend": "▁"},
		{"type": "Replace", "pattern": {"String": " "}, "content": "▁"}
	]},
	"post_processor": {
		"type": "TemplateProcessing",
		"single": [{"SpecialToken": {"id": "<s>", "type_id": 0}}, {"Sequence": {"id": "A", "type_id": 0}}],
		"special_tokens": {"<s>": {"id": "<s>", "ids": [1], "tokens": ["<s>"]}}
	},
	"model": {
		"type": "BPE",
		"byte_fallback": true,
		"ignore_merges": true,
		"unk_token": "<unk>",
		"vocab": {
			"<unk>": 0, "<s>": 1, "</s>": 2, "▁": 3, "▁The": 4, "▁dog": 5,
			"▁chased": 6, "▁the": 7, "▁cat": 8, ".": 9
		},
		"merges": ["▁ c", "▁c a", "▁ca t"]
	}
}`

func newAdapter(t *testing.T, tokenizerJSON string, cfg tokenizer.Config) *tokenizer.Adapter {
	t.Helper()
	b, err := tokenizer.LoadBPEBytes([]byte(tokenizerJSON), cfg)
	require.NoError(t, err)
	a, err := tokenizer.Prepare(b, cfg)
	require.NoError(t, err)
	return a
}

func byteLevel(t *testing.T) *tokenizer.Adapter {
	return newAdapter(t, byteLevelJSON, tokenizer.Config{BOS: "<|endoftext|>", EOS: "<|endoftext|>"})
}

func sentencePiece(t *testing.T) *tokenizer.Adapter {
	return newAdapter(t, metaspaceJSON, tokenizer.Config{BOS: "<s>", EOS: "</s>", Unk: "<unk>"})
}

func TestUnescape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\tb\"c'd\ne\rf", Unescape(`a\tb\"c\'d\ne\rf`))
	assert.Equal(t, "plain", Unescape("plain"))
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	got, err := Substitute("The dog *chased* the cat.")
	require.NoError(t, err)
	m := tokenizer.MarkerText
	assert.Equal(t, "The dog"+m+" chased"+m+" the cat.", got)

	got, err = Substitute("*The* dog")
	require.NoError(t, err)
	assert.Equal(t, m+"The"+m+" dog", got)

	_, err = Substitute("The dog *chased the cat.")
	require.ErrorIs(t, err, ErrMarkerCount)
	_, err = Substitute("*a* *b*")
	require.ErrorIs(t, err, ErrMarkerCount)
}

func TestAlignByteLevel(t *testing.T) {
	t.Parallel()
	tok := byteLevel(t)

	p, err := Align("The dog *chased* the cat.", tok)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 0, 1}, p.Preceding)
	assert.Equal(t, []int{2}, p.Target)
	assert.Equal(t, []int{3, 4, 5}, p.Following)

	text, err := TargetText(p, tok)
	require.NoError(t, err)
	assert.Equal(t, " chased", text)

	s, err := Sentence(p, tok, false)
	require.NoError(t, err)
	assert.Equal(t, "The dog chased", s)
}

func TestAlignSentencePiece(t *testing.T) {
	t.Parallel()
	tok := sentencePiece(t)

	p, err := Align("The dog *chased* the cat.", tok)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 5}, p.Preceding)
	assert.Equal(t, []int{6}, p.Target)
	assert.Equal(t, []int{7, 8, 9}, p.Following)

	s, err := Sentence(p, tok, true)
	require.NoError(t, err)
	assert.Equal(t, "The dog chased the cat.", s)
}

// Re-encoding " chased" under SentencePiece yields a standalone "▁" before
// "▁chased"; the correction keeps only the word token.
func TestCorrectBoundaryDropsDuplicateSpace(t *testing.T) {
	t.Parallel()
	tok := sentencePiece(t)

	got, err := CorrectBoundary([]int{3, 6}, tok)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, got)

	got, err = CorrectBoundary([]int{7, 8, 9}, tok)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9}, got)
}

func TestAlignRoundTrip(t *testing.T) {
	t.Parallel()

	stimuli := []string{
		"The dog *chased* the cat.",
		"The *dog* chased the cat.",
		"The dog chased *the cat.*",
		"The dog *chased the* cat.",
	}
	families := map[string]*tokenizer.Adapter{
		"byte-level":    byteLevel(t),
		"sentencepiece": sentencePiece(t),
	}
	for name, tok := range families {
		for _, stim := range stimuli {
			p, err := Align(stim, tok)
			require.NoError(t, err, "%s: %q", name, stim)
			assert.NotEmpty(t, p.Target, "%s: %q", name, stim)
			assert.True(t, tok.IsSequenceStart(p.Preceding[0]), "%s: %q", name, stim)

			s, err := Sentence(p, tok, true)
			require.NoError(t, err)
			assert.Equal(t, StripMarkers(stim), s, "%s: %q", name, stim)
		}
	}
}

func TestCorrectBoundaryIdempotent(t *testing.T) {
	t.Parallel()

	stimuli := []string{
		"The dog *chased* the cat.",
		"The *dog* chased the cat.",
		"The dog chased *the cat.*",
	}
	for _, tok := range []*tokenizer.Adapter{byteLevel(t), sentencePiece(t)} {
		for _, stim := range stimuli {
			p, err := Align(stim, tok)
			require.NoError(t, err)
			again, err := CorrectBoundary(p.Target, tok)
			require.NoError(t, err)
			assert.Equal(t, p.Target, again, "%q", stim)
		}
	}
}

func TestAlignErrors(t *testing.T) {
	t.Parallel()
	tok := byteLevel(t)

	_, err := Align("The dog *chased the cat.", tok)
	require.ErrorIs(t, err, ErrMarkerCount)

	_, err = Align("The dog** the cat.", tok)
	require.ErrorIs(t, err, ErrEmptyTarget)

	bare := newAdapter(t, bareJSON, tokenizer.Config{})
	_, err = Align("The *dog* chased the cat.", bare)
	require.ErrorIs(t, err, ErrNoSequenceStart)
}

func TestAlignUnescapesBeforeEncoding(t *testing.T) {
	t.Parallel()
	tok := byteLevel(t)

	_, err := Align(`The dog *chased* the cat.\n`, tok)
	// "\n" has no entry in the fixture vocabulary.
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMarkerCount)
}
