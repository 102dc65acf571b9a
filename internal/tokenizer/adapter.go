package tokenizer

import (
	"fmt"
	"slices"
)

// MarkerText is the textual form of the stimulus span marker.
const MarkerText = "[!StimulusMarker!]"

// Adapter is a Backend with its special tokens resolved and the span marker
// registered. Build one with Prepare.
type Adapter struct {
	Backend
	Special   SpecialTokens
	Marker    Special
	MaxLength int
}

// Commonly used names, probed only when no tokenizer_config.json was found.
var probeNames = struct {
	bos, eos, cls, sep, mask, unk, pad []string
}{
	bos:  []string{"<s>", "<|endoftext|>", "<|begin_of_text|>"},
	eos:  []string{"</s>", "<|endoftext|>", "<|end_of_text|>"},
	cls:  []string{"[CLS]", "<cls>"},
	sep:  []string{"[SEP]", "<sep>"},
	mask: []string{"[MASK]", "<mask>"},
	unk:  []string{"[UNK]", "<unk>"},
	pad:  []string{"[PAD]", "<pad>"},
}

// Prepare resolves special tokens from cfg against b, aliases bos to cls and
// eos to sep when missing, and registers the span marker.
func Prepare(b Backend, cfg Config) (*Adapter, error) {
	probe := cfg.BOS == "" && cfg.EOS == "" && cfg.CLS == "" && cfg.SEP == "" && cfg.Mask == ""
	resolve := func(text string, names []string) *Special {
		if text != "" {
			if id, ok := b.TokenID(text); ok {
				return &Special{Text: text, ID: id}
			}
			return nil
		}
		if !probe {
			return nil
		}
		for _, name := range names {
			if id, ok := b.TokenID(name); ok {
				return &Special{Text: name, ID: id}
			}
		}
		return nil
	}

	a := &Adapter{
		Backend:   b,
		MaxLength: cfg.ModelMaxLength,
		Special: SpecialTokens{
			BOS:  resolve(cfg.BOS, probeNames.bos),
			EOS:  resolve(cfg.EOS, probeNames.eos),
			CLS:  resolve(cfg.CLS, probeNames.cls),
			SEP:  resolve(cfg.SEP, probeNames.sep),
			Mask: resolve(cfg.Mask, probeNames.mask),
			Unk:  resolve(cfg.Unk, probeNames.unk),
			Pad:  resolve(cfg.Pad, probeNames.pad),
		},
	}
	if a.MaxLength <= 0 {
		a.MaxLength = DefaultMaxLength
	}
	if a.Special.BOS == nil && a.Special.CLS != nil {
		a.Special.BOS = a.Special.CLS
	}
	if a.Special.EOS == nil && a.Special.SEP != nil {
		a.Special.EOS = a.Special.SEP
	}

	if err := a.registerMarker(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) registerMarker() error {
	base := a.VocabSize()
	_, existed := a.TokenID(MarkerText)
	id, err := a.AddSpecialToken(MarkerText)
	if err != nil {
		return fmt.Errorf("register marker: %w", err)
	}
	if !existed && id < base {
		return fmt.Errorf("marker id %d collides with base vocabulary (size %d)", id, base)
	}
	ids, err := a.Encode(MarkerText)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	if n := countID(ids, id); n != 1 {
		return fmt.Errorf("marker encodes to %d marker ids, want 1", n)
	}
	if text, err := a.Decode([]int{id}); err != nil || text != MarkerText {
		return fmt.Errorf("marker does not round-trip through decode: %q", text)
	}
	a.Marker = Special{Text: MarkerText, ID: id}
	return nil
}

func (a *Adapter) BOSID() (int, bool)  { return idOf(a.Special.BOS) }
func (a *Adapter) EOSID() (int, bool)  { return idOf(a.Special.EOS) }
func (a *Adapter) MaskID() (int, bool) { return idOf(a.Special.Mask) }

// IsSequenceStart reports whether id is the bos or eos id.
func (a *Adapter) IsSequenceStart(id int) bool {
	if bos, ok := a.BOSID(); ok && id == bos {
		return true
	}
	if eos, ok := a.EOSID(); ok && id == eos {
		return true
	}
	return false
}

// TrimSequenceIDs drops leading bos ids and trailing eos ids that Encode
// added around text.
func (a *Adapter) TrimSequenceIDs(ids []int) []int {
	out := slices.Clone(ids)
	if bos, ok := a.BOSID(); ok {
		for len(out) > 0 && out[0] == bos {
			out = out[1:]
		}
	}
	if eos, ok := a.EOSID(); ok {
		for len(out) > 0 && out[len(out)-1] == eos {
			out = out[:len(out)-1]
		}
	}
	return out
}

func countID(ids []int, id int) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
