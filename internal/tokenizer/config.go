package tokenizer

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// DefaultMaxLength is used when tokenizer_config.json has no usable
// model_max_length.
const DefaultMaxLength = 1024

// HF writes this for "no limit".
const unboundedMaxLength = 1_000_000_000

// Config is the subset of tokenizer_config.json the adapter needs. Empty
// strings mean "not set".
type Config struct {
	BOS  string
	EOS  string
	CLS  string
	SEP  string
	Mask string
	Unk  string
	Pad  string

	AddBOS *bool
	AddEOS *bool

	ModelMaxLength int
}

type tokenizerConfigJSON struct {
	BOS            json.RawMessage `json:"bos_token"`
	EOS            json.RawMessage `json:"eos_token"`
	CLS            json.RawMessage `json:"cls_token"`
	SEP            json.RawMessage `json:"sep_token"`
	Mask           json.RawMessage `json:"mask_token"`
	Unk            json.RawMessage `json:"unk_token"`
	Pad            json.RawMessage `json:"pad_token"`
	AddBOS         *bool           `json:"add_bos_token"`
	AddEOS         *bool           `json:"add_eos_token"`
	ModelMaxLength *float64        `json:"model_max_length"`
}

// LoadConfig reads tokenizer_config.json. A missing file yields a Config with
// only the default max length set.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{ModelMaxLength: DefaultMaxLength}, nil
		}
		return Config{}, err
	}
	return ParseConfig(raw)
}

// ParseConfig parses tokenizer_config.json bytes. Token fields may be plain
// strings or AddedToken objects with a "content" field.
func ParseConfig(raw []byte) (Config, error) {
	var cj tokenizerConfigJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return Config{}, fmt.Errorf("parse tokenizer config: %w", err)
	}
	cfg := Config{
		AddBOS:         cj.AddBOS,
		AddEOS:         cj.AddEOS,
		ModelMaxLength: DefaultMaxLength,
	}
	fields := []struct {
		raw json.RawMessage
		dst *string
	}{
		{cj.BOS, &cfg.BOS},
		{cj.EOS, &cfg.EOS},
		{cj.CLS, &cfg.CLS},
		{cj.SEP, &cfg.SEP},
		{cj.Mask, &cfg.Mask},
		{cj.Unk, &cfg.Unk},
		{cj.Pad, &cfg.Pad},
	}
	for _, f := range fields {
		s, err := tokenContent(f.raw)
		if err != nil {
			return Config{}, err
		}
		*f.dst = s
	}
	if cj.ModelMaxLength != nil {
		n := *cj.ModelMaxLength
		if n > 0 && n < unboundedMaxLength {
			cfg.ModelMaxLength = int(n)
		}
	}
	return cfg, nil
}

func tokenContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("parse special token %s: %w", string(raw), err)
	}
	return obj.Content, nil
}
