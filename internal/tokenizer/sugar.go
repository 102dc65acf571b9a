package tokenizer

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Fast runs the normalizer, pre-tokenizer and model of a tokenizer.json
// through sugarme/tokenizer. It handles WordPiece and BPE models.
//
// Added tokens are cut out of the text before sugarme sees it and the
// post-processor and decoder are applied here, so atomic tokens registered
// with AddSpecialToken survive a round trip.
type Fast struct {
	t      *tk.Tokenizer
	steps  []decodeStep
	prefix []int
	suffix []int

	added    []string
	addedIDs map[string]int
	addedTok map[int]string
	nextID   int
}

// LoadFast builds the tokenizer.json pipeline at path.
func LoadFast(path string) (f *Fast, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fast tokenizer: %w", err)
	}
	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}

	// sugarme panics on configurations it does not model, such as Unigram
	// vocabularies and pair-style merges.
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("load fast tokenizer: %v", r)
		}
	}()
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fast tokenizer: %w", err)
	}

	f = &Fast{
		t:        t,
		steps:    buildDecoder(tj.Decoder),
		addedIDs: make(map[string]int),
		addedTok: make(map[int]string),
		nextID:   t.GetVocabSize(true),
	}
	base := t.GetVocab(true)
	vocab := make(map[string]int, len(base)+len(tj.AddedTokens))
	for tok, id := range base {
		vocab[tok] = id
		f.nextID = max(f.nextID, id+1)
	}
	for _, at := range tj.AddedTokens {
		f.register(at.Content, at.ID)
		vocab[at.Content] = at.ID
	}
	if tj.PostProcessor != nil {
		f.prefix, f.suffix = postProcessIDs(*tj.PostProcessor, vocab)
	}
	return f, nil
}

func (f *Fast) register(content string, id int) {
	if _, ok := f.addedIDs[content]; ok || content == "" {
		return
	}
	f.addedIDs[content] = id
	f.addedTok[id] = content
	f.added = append(f.added, content)
	sortLongestFirst(f.added)
	f.nextID = max(f.nextID, id+1)
}

func (f *Fast) Encode(text string) ([]int, error) {
	ids := append([]int(nil), f.prefix...)
	for _, part := range splitSpecials(text, f.added) {
		if part.isSpecial {
			ids = append(ids, f.addedIDs[part.text])
			continue
		}
		seg, err := f.encodeSegment(part.text)
		if err != nil {
			return nil, err
		}
		ids = append(ids, seg...)
	}
	return append(ids, f.suffix...), nil
}

// encodeSegment encodes text that holds no added token. sugarme panics on
// characters its vocabulary cannot represent when there is no unk token.
func (f *Fast) encodeSegment(text string) (ids []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids, err = nil, fmt.Errorf("encode %q: %v", text, r)
		}
	}()
	enc, err := f.t.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}
	return enc.GetIds(), nil
}

func (f *Fast) Decode(ids []int) (string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := f.TokenString(id)
		if !ok {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		tokens = append(tokens, tok)
	}
	return runDecoder(f.steps, tokens), nil
}

func (f *Fast) TokenString(id int) (string, bool) {
	if s, ok := f.addedTok[id]; ok {
		return s, true
	}
	return f.t.IdToToken(id)
}

func (f *Fast) TokenID(token string) (int, bool) {
	if id, ok := f.addedIDs[token]; ok {
		return id, true
	}
	return f.t.TokenToId(token)
}

func (f *Fast) VocabSize() int { return f.nextID }

func (f *Fast) AddSpecialToken(content string) (int, error) {
	if content == "" {
		return 0, fmt.Errorf("empty special token")
	}
	if id, ok := f.addedIDs[content]; ok {
		return id, nil
	}
	id, ok := f.t.TokenToId(content)
	if !ok {
		id = f.nextID
	}
	f.register(content, id)
	return id, nil
}
