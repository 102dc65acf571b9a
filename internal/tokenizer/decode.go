package tokenizer

import (
	"strings"
	"unicode/utf8"
)

type decoderJSON struct {
	Type           string `json:"type"`
	Prefix         string `json:"prefix"`
	Cleanup        *bool  `json:"cleanup"`
	Suffix         string `json:"suffix"`
	Replacement    string `json:"replacement"`
	AddPrefixSpace *bool  `json:"add_prefix_space"`
	PrependScheme  string `json:"prepend_scheme"`
	Pattern        struct {
		String string `json:"String"`
	} `json:"pattern"`
	Content  string        `json:"content"`
	Start    int           `json:"start"`
	Stop     int           `json:"stop"`
	Decoders []decoderJSON `json:"decoders"`
}

// decodeStep rewrites the token strings of a decode. A chain of steps
// mirrors the "decoder" section of tokenizer.json; the results are
// concatenated.
type decodeStep func(tokens []string) []string

// buildDecoder returns nil when tokenizer.json has no decoder, in which case
// tokens are joined with spaces.
func buildDecoder(d *decoderJSON) []decodeStep {
	if d == nil {
		return nil
	}
	_, byteDecoder := bytesToUnicode()
	var steps []decodeStep
	for _, dec := range flattenDecoder(*d) {
		switch dec.Type {
		case "ByteLevel":
			steps = append(steps, byteLevelStep(byteDecoder))
		case "WordPiece":
			prefix := dec.Prefix
			if prefix == "" {
				prefix = "##"
			}
			steps = append(steps, wordPieceStep(prefix, dec.Cleanup == nil || *dec.Cleanup))
		case "Metaspace":
			repl := dec.Replacement
			if repl == "" {
				repl = metaspace
			}
			strip := dec.PrependScheme != "never"
			if dec.AddPrefixSpace != nil {
				strip = *dec.AddPrefixSpace
			}
			steps = append(steps, metaspaceStep(repl, strip))
		case "Replace":
			if dec.Pattern.String != "" {
				steps = append(steps, replaceStep(dec.Pattern.String, dec.Content))
			}
		case "ByteFallback":
			steps = append(steps, byteFallbackStep)
		case "Fuse":
			steps = append(steps, fuseStep)
		case "Strip":
			steps = append(steps, stripStep(dec.Content, dec.Start, dec.Stop))
		case "BPE":
			suffix := dec.Suffix
			if suffix == "" {
				suffix = "</w>"
			}
			steps = append(steps, bpeSuffixStep(suffix))
		}
	}
	if steps == nil {
		steps = []decodeStep{}
	}
	return steps
}

func flattenDecoder(d decoderJSON) []decoderJSON {
	if d.Type != "Sequence" {
		return []decoderJSON{d}
	}
	var out []decoderJSON
	for _, child := range d.Decoders {
		out = append(out, flattenDecoder(child)...)
	}
	return out
}

func byteLevelStep(byteDecoder map[rune]byte) decodeStep {
	return func(tokens []string) []string {
		var b []byte
		for _, tok := range tokens {
			for _, r := range tok {
				if by, ok := byteDecoder[r]; ok {
					b = append(b, by)
				} else {
					b = utf8.AppendRune(b, r)
				}
			}
		}
		return []string{strings.ToValidUTF8(string(b), "�")}
	}
}

var wordPieceCleanup = strings.NewReplacer(
	" .", ".", " ?", "?", " !", "!", " ,", ",", " ' ", "'",
	" n't", "n't", " 'm", "'m", " do not", " don't",
	" 's", "'s", " 've", "'ve", " 're", "'re",
)

func wordPieceStep(prefix string, cleanup bool) decodeStep {
	return func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			if i > 0 {
				if strings.HasPrefix(tok, prefix) {
					tok = strings.TrimPrefix(tok, prefix)
				} else {
					tok = " " + tok
				}
			}
			if cleanup {
				tok = wordPieceCleanup.Replace(tok)
			}
			out[i] = tok
		}
		return out
	}
}

func metaspaceStep(replacement string, stripFirst bool) decodeStep {
	return func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			tok = strings.ReplaceAll(tok, replacement, " ")
			if i == 0 && stripFirst {
				tok = strings.TrimPrefix(tok, " ")
			}
			out[i] = tok
		}
		return out
	}
}

func replaceStep(from, to string) decodeStep {
	return func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			out[i] = strings.ReplaceAll(tok, from, to)
		}
		return out
	}
}

// byteFallbackStep turns runs of <0xNN> tokens into text. Invalid UTF-8
// yields one replacement character per byte.
func byteFallbackStep(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if utf8.Valid(pending) {
			out = append(out, string(pending))
		} else {
			for range pending {
				out = append(out, "�")
			}
		}
		pending = pending[:0]
	}
	for _, tok := range tokens {
		if by, ok := parseByteToken(tok); ok {
			pending = append(pending, by)
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return out
}

func fuseStep(tokens []string) []string {
	return []string{strings.Join(tokens, "")}
}

func stripStep(content string, start, stop int) decodeStep {
	return func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			if content != "" {
				for n := 0; n < start && strings.HasPrefix(tok, content); n++ {
					tok = tok[len(content):]
				}
				for n := 0; n < stop && strings.HasSuffix(tok, content); n++ {
					tok = tok[:len(tok)-len(content)]
				}
			}
			out[i] = tok
		}
		return out
	}
}

func bpeSuffixStep(suffix string) decodeStep {
	return func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			repl := " "
			if i == len(tokens)-1 {
				repl = ""
			}
			out[i] = strings.ReplaceAll(tok, suffix, repl)
		}
		return out
	}
}

func runDecoder(steps []decodeStep, tokens []string) string {
	if steps == nil {
		return strings.Join(tokens, " ")
	}
	for _, step := range steps {
		tokens = step(tokens)
	}
	return strings.Join(tokens, "")
}
