package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const metaspace = "▁"

// Pair represents a pair of BPE symbols.
type Pair struct {
	A string
	B string
}

type bpeMode int

const (
	modeByteLevel bpeMode = iota
	modeMetaspace
)

// BPE is a pure-Go tokenizer for tokenizer.json files whose model is BPE. It
// covers byte-level vocabularies (GPT-2, OPT, RoBERTa) and metaspace
// vocabularies with byte fallback (LLaMA, OpenLLaMA). This is the slow path
// used for models whose fast tokenizer cannot be constructed.
type BPE struct {
	encoder      map[string]int
	decoder      map[int]string
	bpeRanks     map[Pair]int
	cache        map[string][]string
	byteEncoder  map[byte]string
	byteDecoder  map[rune]byte
	pattern      *regexp.Regexp
	mode         bpeMode
	addPrefix    bool
	byteFallback bool
	ignoreMerges bool
	unkID        int
	prefix       []int
	suffix       []int

	added    []string
	addedIDs map[string]int
	nextID   int
}

type tokenizerJSON struct {
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
	Normalizer    *normalizerJSON    `json:"normalizer"`
	PreTokenizer  *preTokenizerJSON  `json:"pre_tokenizer"`
	PostProcessor *postProcessorJSON `json:"post_processor"`
	Decoder       *decoderJSON       `json:"decoder"`
	Model         struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
		ByteFallback bool           `json:"byte_fallback"`
	} `json:"model"`
}

type normalizerJSON struct {
	Type    string `json:"type"`
	Prepend string `json:"prepend"`
	Content string `json:"content"`
	Pattern struct {
		String string `json:"String"`
	} `json:"pattern"`
	Normalizers []normalizerJSON `json:"normalizers"`
}

type preTokenizerJSON struct {
	Type           string `json:"type"`
	AddPrefixSpace *bool  `json:"add_prefix_space"`
	PrependScheme  string `json:"prepend_scheme"`
	Pattern        struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
	Pretokenizers []preTokenizerJSON `json:"pretokenizers"`
}

type postProcessorJSON struct {
	Type   string `json:"type"`
	Single []struct {
		SpecialToken *struct {
			ID string `json:"id"`
		} `json:"SpecialToken"`
		Sequence *struct {
			ID string `json:"id"`
		} `json:"Sequence"`
	} `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Cls        []any               `json:"cls"`
	Sep        []any               `json:"sep"`
	Processors []postProcessorJSON `json:"processors"`
}

// LoadBPE reads tokenizer.json from disk.
func LoadBPE(path string, cfg Config) (*BPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBPEBytes(data, cfg)
}

// LoadBPEBytes builds a BPE tokenizer from tokenizer.json bytes. cfg supplies
// add_bos_token/add_eos_token when the file has no post-processor.
func LoadBPEBytes(data []byte, cfg Config) (*BPE, error) {
	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" && !(tj.Model.Type == "" && len(tj.Model.Vocab) > 0) {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	t := &BPE{
		encoder:      make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens)),
		decoder:      make(map[int]string, len(tj.Model.Vocab)+len(tj.AddedTokens)),
		cache:        make(map[string][]string),
		addedIDs:     make(map[string]int),
		byteFallback: tj.Model.ByteFallback,
		ignoreMerges: tj.Model.IgnoreMerges,
		unkID:        -1,
	}
	for tok, id := range tj.Model.Vocab {
		t.encoder[tok] = id
		t.decoder[id] = tok
		t.nextID = max(t.nextID, id+1)
	}
	for _, at := range tj.AddedTokens {
		t.encoder[at.Content] = at.ID
		t.decoder[at.ID] = at.Content
		t.addedIDs[at.Content] = at.ID
		t.added = append(t.added, at.Content)
		t.nextID = max(t.nextID, at.ID+1)
	}
	sortLongestFirst(t.added)

	t.bpeRanks = parseMerges(tj.Model.Merges)
	t.byteEncoder, t.byteDecoder = bytesToUnicode()

	if tj.Model.UnkToken != "" {
		if id, ok := t.encoder[tj.Model.UnkToken]; ok {
			t.unkID = id
		}
	}

	t.mode, t.addPrefix = detectMode(tj.Normalizer, tj.PreTokenizer)
	t.pattern = buildPattern(tj.PreTokenizer)

	if tj.PostProcessor != nil {
		t.prefix, t.suffix = postProcessIDs(*tj.PostProcessor, t.encoder)
	}
	if tj.PostProcessor == nil || (len(t.prefix) == 0 && len(t.suffix) == 0 && tj.PostProcessor.Type == "ByteLevel") {
		if cfg.AddBOS != nil && *cfg.AddBOS && cfg.BOS != "" {
			if id, ok := t.encoder[cfg.BOS]; ok {
				t.prefix = []int{id}
			}
		}
		if cfg.AddEOS != nil && *cfg.AddEOS && cfg.EOS != "" {
			if id, ok := t.encoder[cfg.EOS]; ok {
				t.suffix = []int{id}
			}
		}
	}
	return t, nil
}

func parseMerges(merges []any) map[Pair]int {
	ranks := make(map[Pair]int, len(merges))
	rank := 0
	for _, raw := range merges {
		line := ""
		switch v := raw.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || a == "" || b == "" {
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

func detectMode(norm *normalizerJSON, pre *preTokenizerJSON) (bpeMode, bool) {
	if pre != nil {
		for _, p := range flattenPre(*pre) {
			switch p.Type {
			case "Metaspace":
				prefix := p.PrependScheme == "always" || p.PrependScheme == "first"
				if p.AddPrefixSpace != nil {
					prefix = *p.AddPrefixSpace
				}
				return modeMetaspace, prefix
			case "ByteLevel":
				return modeByteLevel, p.AddPrefixSpace != nil && *p.AddPrefixSpace
			}
		}
	}
	if norm != nil {
		isMeta, prefix := false, false
		for _, n := range flattenNorm(*norm) {
			switch n.Type {
			case "Replace":
				if n.Pattern.String == " " && n.Content == metaspace {
					isMeta = true
				}
			case "Prepend":
				if n.Prepend == metaspace {
					prefix = true
				}
			}
		}
		if isMeta {
			return modeMetaspace, prefix
		}
	}
	return modeByteLevel, false
}

func flattenPre(p preTokenizerJSON) []preTokenizerJSON {
	if p.Type != "Sequence" {
		return []preTokenizerJSON{p}
	}
	var out []preTokenizerJSON
	for _, child := range p.Pretokenizers {
		out = append(out, flattenPre(child)...)
	}
	return out
}

func flattenNorm(n normalizerJSON) []normalizerJSON {
	if n.Type != "Sequence" {
		return []normalizerJSON{n}
	}
	var out []normalizerJSON
	for _, child := range n.Normalizers {
		out = append(out, flattenNorm(child)...)
	}
	return out
}

func buildPattern(pre *preTokenizerJSON) *regexp.Regexp {
	// Default to GPT2-ish regex.
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre != nil {
		for _, p := range flattenPre(*pre) {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Llama3-style patterns use lookahead, which Go regexp lacks. Use the
	// llama.cpp variant instead.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}

func postProcessIDs(pp postProcessorJSON, encoder map[string]int) ([]int, []int) {
	var prefix, suffix []int
	switch pp.Type {
	case "TemplateProcessing":
		seenSeq := false
		for _, piece := range pp.Single {
			if piece.Sequence != nil {
				seenSeq = true
				continue
			}
			if piece.SpecialToken == nil {
				continue
			}
			ids := pp.SpecialTokens[piece.SpecialToken.ID].IDs
			if len(ids) == 0 {
				if id, ok := encoder[piece.SpecialToken.ID]; ok {
					ids = []int{id}
				}
			}
			if seenSeq {
				suffix = append(suffix, ids...)
			} else {
				prefix = append(prefix, ids...)
			}
		}
	case "RobertaProcessing", "BertProcessing":
		if id, ok := pairID(pp.Cls, encoder); ok {
			prefix = append(prefix, id)
		}
		if id, ok := pairID(pp.Sep, encoder); ok {
			suffix = append(suffix, id)
		}
	case "Sequence":
		for _, child := range pp.Processors {
			p, s := postProcessIDs(child, encoder)
			prefix = append(prefix, p...)
			suffix = append(suffix, s...)
		}
	}
	return prefix, suffix
}

// pairID reads a ["<s>", 0] style (token, id) pair.
func pairID(pair []any, encoder map[string]int) (int, bool) {
	if len(pair) == 2 {
		if f, ok := pair[1].(float64); ok {
			return int(f), true
		}
	}
	if len(pair) >= 1 {
		if s, ok := pair[0].(string); ok {
			id, ok := encoder[s]
			return id, ok
		}
	}
	return 0, false
}

func (t *BPE) Encode(text string) ([]int, error) {
	ids := append([]int(nil), t.prefix...)
	for i, part := range splitSpecials(text, t.added) {
		if part.isSpecial {
			ids = append(ids, t.addedIDs[part.text])
			continue
		}
		var err error
		ids, err = t.encodeText(ids, part.text, i == 0)
		if err != nil {
			return nil, err
		}
	}
	ids = append(ids, t.suffix...)
	return ids, nil
}

func (t *BPE) encodeText(ids []int, text string, first bool) ([]int, error) {
	if t.mode == modeMetaspace {
		s := strings.ReplaceAll(text, " ", metaspace)
		if first && t.addPrefix {
			s = metaspace + s
		}
		for _, word := range splitMetaspace(s) {
			for _, sym := range t.bpe(word) {
				var err error
				ids, err = t.appendSymbol(ids, sym)
				if err != nil {
					return nil, err
				}
			}
		}
		return ids, nil
	}

	if first && t.addPrefix && !strings.HasPrefix(text, " ") {
		text = " " + text
	}
	for _, token := range t.pattern.FindAllString(text, -1) {
		for _, sym := range t.bpe(t.byteEncode(token)) {
			var err error
			ids, err = t.appendSymbol(ids, sym)
			if err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

func (t *BPE) appendSymbol(ids []int, sym string) ([]int, error) {
	if id, ok := t.encoder[sym]; ok {
		return append(ids, id), nil
	}
	if t.byteFallback {
		for _, b := range []byte(sym) {
			id, ok := t.encoder[fmt.Sprintf("<0x%02X>", b)]
			if !ok {
				return nil, fmt.Errorf("missing byte fallback token for 0x%02X", b)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	if t.unkID >= 0 {
		return append(ids, t.unkID), nil
	}
	return nil, fmt.Errorf("unknown token: %q", sym)
}

func (t *BPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		token, ok := t.decoder[id]
		if !ok {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if _, special := t.addedIDs[token]; special {
			b = append(b, token...)
			continue
		}
		if t.mode == modeMetaspace {
			if by, ok := parseByteToken(token); ok {
				b = append(b, by)
				continue
			}
			b = append(b, strings.ReplaceAll(token, metaspace, " ")...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	out := string(b)
	if t.mode == modeMetaspace && t.addPrefix {
		out = strings.TrimPrefix(out, " ")
	}
	return out, nil
}

func (t *BPE) TokenString(id int) (string, bool) {
	s, ok := t.decoder[id]
	return s, ok
}

func (t *BPE) TokenID(token string) (int, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *BPE) VocabSize() int { return t.nextID }

func (t *BPE) AddSpecialToken(content string) (int, error) {
	if content == "" {
		return 0, fmt.Errorf("empty special token")
	}
	if id, ok := t.addedIDs[content]; ok {
		return id, nil
	}
	id := t.nextID
	t.nextID++
	t.encoder[content] = id
	t.decoder[id] = content
	t.addedIDs[content] = id
	t.added = append(t.added, content)
	sortLongestFirst(t.added)
	t.cache = make(map[string][]string)
	return id, nil
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	for len(word) > 1 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range getPairs(word) {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
	}
	t.cache[token] = word
	return word
}

func parseByteToken(tok string) (byte, bool) {
	if len(tok) != 6 || !strings.HasPrefix(tok, "<0x") || tok[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(tok[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// splitMetaspace splits "▁The▁dog" into "▁The", "▁dog", keeping each
// metaspace attached to the word it precedes.
func splitMetaspace(s string) []string {
	var out []string
	start := 0
	for i := range s {
		if i > start && strings.HasPrefix(s[i:], metaspace) {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[Pair]struct{} {
	pairs := make(map[Pair]struct{})
	if len(word) < 2 {
		return pairs
	}
	prev := word[0]
	for _, w := range word[1:] {
		pairs[Pair{A: prev, B: w}] = struct{}{}
		prev = w
	}
	return pairs
}

func mergePair(word []string, pair Pair) []string {
	var out []string
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

type textPart struct {
	text      string
	isSpecial bool
}

func sortLongestFirst(tokens []string) {
	for i := 1; i < len(tokens); i++ {
		j := i
		for j > 0 && len(tokens[j]) > len(tokens[j-1]) {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
			j--
		}
	}
}

// splitSpecials cuts text around atomic tokens. specials must be sorted
// longest first so overlapping tokens match greedily.
func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	var buf strings.Builder
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if sp != "" && strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match != "" {
			if buf.Len() > 0 {
				parts = append(parts, textPart{text: buf.String()})
				buf.Reset()
			}
			parts = append(parts, textPart{text: match, isSpecial: true})
			i += len(match)
			continue
		}
		buf.WriteByte(text[i])
		i++
	}
	if buf.Len() > 0 {
		parts = append(parts, textPart{text: buf.String()})
	}
	return parts
}

// bytesToUnicode maps bytes to unicode strings to make BPE reversible.
func bytesToUnicode() (map[byte]string, map[rune]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := make([]int, len(bs))
	copy(cs, bs)
	seen := make(map[int]bool, len(bs))
	for _, v := range bs {
		seen[v] = true
	}
	n := 0
	for b := 0; b < 256; b++ {
		if !seen[b] {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	byteEncoder := make(map[byte]string, len(bs))
	byteDecoder := make(map[rune]byte, len(bs))
	for i := range bs {
		r := rune(cs[i])
		byteEncoder[byte(bs[i])] = string(r)
		byteDecoder[r] = byte(bs[i])
	}
	return byteEncoder, byteDecoder
}
