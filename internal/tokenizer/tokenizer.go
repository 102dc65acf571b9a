// Package tokenizer loads subword tokenizers and adapts them for span
// alignment: special tokens are resolved once into nullable slots and a
// dedicated stimulus marker token is registered.
package tokenizer

// Backend is a loaded subword tokenizer.
//
// Encode applies the tokenizer's own post-processing, so ids may start with a
// bos/cls id and end with an eos/sep id depending on the model.
type Backend interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// TokenString returns the raw vocabulary entry for id (e.g. "▁dog", "Ġdog").
	TokenString(id int) (string, bool)
	TokenID(token string) (int, bool)
	VocabSize() int
	// AddSpecialToken registers content as an atomic special token and returns
	// its id. Registering an existing special token returns the existing id.
	AddSpecialToken(content string) (int, error)
}

// Special is a resolved special token.
type Special struct {
	Text string
	ID   int
}

// SpecialTokens holds the optional special-token slots of a tokenizer.
// A nil slot means the tokenizer does not define it.
type SpecialTokens struct {
	BOS  *Special
	EOS  *Special
	CLS  *Special
	SEP  *Special
	Mask *Special
	Unk  *Special
	Pad  *Special
}

func idOf(s *Special) (int, bool) {
	if s == nil {
		return -1, false
	}
	return s.ID, true
}
