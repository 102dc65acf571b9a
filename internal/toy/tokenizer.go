package toy

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// Special tokens follow the 256 byte ids.
const (
	BOS  = "<s>"
	EOS  = "</s>"
	Mask = "<mask>"
	Pad  = "<pad>"

	baseVocab = 256 + 4
)

// ByteTokenizer encodes text as one token per byte, prefixed with <s>.
// Special tokens are matched atomically.
type ByteTokenizer struct {
	mu       sync.RWMutex
	specials map[string]int
	byID     map[int]string
	order    []string
	next     int
}

func NewByteTokenizer() *ByteTokenizer {
	t := &ByteTokenizer{
		specials: make(map[string]int),
		byID:     make(map[int]string),
		next:     256,
	}
	for _, s := range []string{BOS, EOS, Mask, Pad} {
		t.add(s)
	}
	return t
}

func (t *ByteTokenizer) add(content string) int {
	id := t.next
	t.next++
	t.specials[content] = id
	t.byID[id] = content
	t.order = append(t.order, content)
	slices.SortFunc(t.order, func(a, b string) int { return len(b) - len(a) })
	return id
}

func (t *ByteTokenizer) Encode(text string) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := []int{t.specials[BOS]}
outer:
	for i := 0; i < len(text); {
		for _, s := range t.order {
			if strings.HasPrefix(text[i:], s) {
				ids = append(ids, t.specials[s])
				i += len(s)
				continue outer
			}
		}
		ids = append(ids, int(text[i]))
		i++
	}
	return ids, nil
}

func (t *ByteTokenizer) Decode(ids []int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b []byte
	for _, id := range ids {
		if id >= 0 && id < 256 {
			b = append(b, byte(id))
			continue
		}
		s, ok := t.byID[id]
		if !ok {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		b = append(b, s...)
	}
	return string(b), nil
}

func (t *ByteTokenizer) TokenString(id int) (string, bool) {
	if id >= 0 && id < 256 {
		return string([]byte{byte(id)}), true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

func (t *ByteTokenizer) TokenID(token string) (int, bool) {
	if len(token) == 1 {
		return int(token[0]), true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.specials[token]
	return id, ok
}

func (t *ByteTokenizer) VocabSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.next
}

func (t *ByteTokenizer) AddSpecialToken(content string) (int, error) {
	if content == "" {
		return 0, fmt.Errorf("empty special token")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.specials[content]; ok {
		return id, nil
	}
	return t.add(content), nil
}

// Config is the tokenizer_config equivalent of ByteTokenizer.
func Config() tokenizer.Config {
	return tokenizer.Config{
		BOS:            BOS,
		EOS:            EOS,
		Mask:           Mask,
		Pad:            Pad,
		ModelMaxLength: 512,
	}
}
