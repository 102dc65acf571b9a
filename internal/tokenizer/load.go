package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// Model-name substrings whose tokenizer.json is not handled by the fast path.
var slowTokenizerModels = []string{"facebook/opt", "open_llama"}

// UseFast reports whether modelID should be loaded with the fast tokenizer.
func UseFast(modelID string) bool {
	for _, s := range slowTokenizerModels {
		if strings.Contains(modelID, s) {
			return false
		}
	}
	return true
}

// Files locates the tokenizer files of a model.
type Files struct {
	TokenizerJSON   string
	TokenizerConfig string
}

// Load reads the tokenizer config and builds a backend. When fast is set the
// sugarme pipeline is tried first; it is kept only if Prepare accepts it,
// otherwise the pure-Go BPE is the fallback.
func Load(files Files, fast bool) (Backend, Config, error) {
	cfg := Config{ModelMaxLength: DefaultMaxLength}
	if files.TokenizerConfig != "" {
		var err error
		cfg, err = LoadConfig(files.TokenizerConfig)
		if err != nil {
			return nil, Config{}, err
		}
	}
	if files.TokenizerJSON == "" {
		return nil, Config{}, errors.New("tokenizer.json path is required")
	}

	if fast {
		f, fastErr := LoadFast(files.TokenizerJSON)
		if fastErr == nil {
			if _, fastErr = Prepare(f, cfg); fastErr == nil {
				return f, cfg, nil
			}
			fastErr = fmt.Errorf("prepare fast tokenizer: %w", fastErr)
		}
		b, slowErr := LoadBPE(files.TokenizerJSON, cfg)
		if slowErr != nil {
			return nil, Config{}, errors.Join(fastErr, fmt.Errorf("load bpe tokenizer: %w", slowErr))
		}
		return b, cfg, nil
	}

	b, err := LoadBPE(files.TokenizerJSON, cfg)
	if err != nil {
		return nil, Config{}, fmt.Errorf("load bpe tokenizer: %w", err)
	}
	return b, cfg, nil
}
