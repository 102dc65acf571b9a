// Package align maps a stimulus with two inline "*" markers onto the token
// boundaries of a subword tokenizer.
package align

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// SpanMarker delimits the target span in a raw stimulus.
const SpanMarker = "*"

var (
	ErrMarkerCount     = errors.New("stimulus must contain exactly two span markers")
	ErrEmptyTarget     = errors.New("target span is empty")
	ErrNoSequenceStart = errors.New("tokenizer has neither a bos nor an eos token")
)

// Partition is a stimulus split at the two marker positions. Preceding
// always begins with a bos or eos id.
type Partition struct {
	Preceding []int
	Target    []int
	Following []int
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t", `\"`, `"`, `\'`, `'`)

// Unescape resolves literal \n, \r, \t, \" and \' sequences.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// Substitute replaces the two span markers with the tokenizer marker text.
// A marker written after a space (" *") is moved before it so the span
// keeps its word boundary.
func Substitute(stimulus string) (string, error) {
	if n := strings.Count(stimulus, SpanMarker); n != 2 {
		return "", fmt.Errorf("%w: found %d", ErrMarkerCount, n)
	}
	s := strings.ReplaceAll(stimulus, " "+SpanMarker, SpanMarker+" ")
	return strings.ReplaceAll(s, SpanMarker, tokenizer.MarkerText), nil
}

// StripMarkers removes the span markers from stimulus.
func StripMarkers(stimulus string) string {
	return strings.ReplaceAll(stimulus, SpanMarker, "")
}

// Align unescapes stimulus, encodes it and partitions the encoding around
// the two markers, applying boundary correction to the target.
func Align(stimulus string, tok *tokenizer.Adapter) (Partition, error) {
	substituted, err := Substitute(Unescape(stimulus))
	if err != nil {
		return Partition{}, err
	}
	ids, err := tok.Encode(substituted)
	if err != nil {
		return Partition{}, fmt.Errorf("encode stimulus: %w", err)
	}

	var at []int
	for i, id := range ids {
		if id == tok.Marker.ID {
			at = append(at, i)
		}
	}
	if len(at) != 2 {
		return Partition{}, fmt.Errorf("%w: encoding has %d marker ids", ErrMarkerCount, len(at))
	}

	preceding := slices.Clone(ids[:at[0]])
	if len(preceding) == 0 || !tok.IsSequenceStart(preceding[0]) {
		start, ok := sequenceStart(tok)
		if !ok {
			return Partition{}, ErrNoSequenceStart
		}
		preceding = append([]int{start}, preceding...)
	}

	p := Partition{
		Preceding: preceding,
		Target:    slices.Clone(ids[at[0]+1 : at[1]]),
		Following: slices.Clone(ids[at[1]+1:]),
	}
	if len(p.Target) == 0 {
		return Partition{}, ErrEmptyTarget
	}

	if strings.Contains(substituted, tokenizer.MarkerText+" ") {
		p.Target, err = CorrectBoundary(p.Target, tok)
		if err != nil {
			return Partition{}, err
		}
	}
	return p, nil
}

func sequenceStart(tok *tokenizer.Adapter) (int, bool) {
	if id, ok := tok.BOSID(); ok {
		return id, true
	}
	return tok.EOSID()
}

// Leading-space markers of the common tokenizer families: SentencePiece,
// byte-level BPE and plain-text vocabularies.
var spaceMarkers = []string{"▁", "Ġ", " "}

// CorrectBoundary re-tokenizes a target that lost its leading space next to
// the marker, then drops a standalone leading-space token that duplicates
// the space already carried by the following token.
func CorrectBoundary(target []int, tok *tokenizer.Adapter) ([]int, error) {
	if len(target) == 0 {
		return nil, ErrEmptyTarget
	}
	decoded, err := tok.Decode(target)
	if err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}

	if !strings.HasPrefix(decoded, " ") {
		ids, err := tok.Encode(" " + decoded)
		if err != nil {
			return nil, fmt.Errorf("encode target: %w", err)
		}
		ids = tok.TrimSequenceIDs(ids)
		if len(ids) == 0 {
			return nil, ErrEmptyTarget
		}
		target = ids
		if decoded, err = tok.Decode(target); err != nil {
			return nil, fmt.Errorf("decode target: %w", err)
		}
	}

	if strings.HasPrefix(decoded, " ") && len(target) > 1 {
		first, _ := tok.TokenString(target[0])
		second, _ := tok.TokenString(target[1])
		for _, m := range spaceMarkers {
			if first == m && strings.HasPrefix(second, m) {
				return slices.Clone(target[1:]), nil
			}
		}
	}
	return target, nil
}

// Sentence decodes the stimulus as scored: the preceding context without
// its sequence-start id, the target, and the following context when
// includeFollowing is set. A trailing eos id is dropped.
func Sentence(p Partition, tok *tokenizer.Adapter, includeFollowing bool) (string, error) {
	var ids []int
	if len(p.Preceding) > 0 {
		ids = append(ids, p.Preceding[1:]...)
	}
	ids = append(ids, p.Target...)
	if includeFollowing {
		ids = append(ids, p.Following...)
	}
	if eos, ok := tok.EOSID(); ok && len(ids) > 0 && ids[len(ids)-1] == eos {
		ids = ids[:len(ids)-1]
	}
	return tok.Decode(ids)
}

// TargetText decodes the target span.
func TargetText(p Partition, tok *tokenizer.Adapter) (string, error) {
	return tok.Decode(p.Target)
}
