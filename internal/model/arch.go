package model

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// HFConfig is the subset of a Hugging Face config.json used to classify a
// model and bound its input length.
type HFConfig struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`
	IsDecoder     bool     `json:"is_decoder"`
	MaxPosition   int      `json:"max_position_embeddings"`
	NPositions    int      `json:"n_positions"`
	NCtx          int      `json:"n_ctx"`
	VocabSize     int      `json:"vocab_size"`
}

func LoadHFConfig(path string) (*HFConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHFConfig(raw)
}

// ParseHFConfig parses config.json, filling missing fields from a nested
// text_config object as multimodal configs do.
func ParseHFConfig(raw []byte) (*HFConfig, error) {
	var cfg HFConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	var top struct {
		TextConfig *HFConfig `json:"text_config"`
	}
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	if tc := top.TextConfig; tc != nil {
		if cfg.MaxPosition == 0 {
			cfg.MaxPosition = tc.MaxPosition
		}
		if cfg.NPositions == 0 {
			cfg.NPositions = tc.NPositions
		}
		if cfg.VocabSize == 0 {
			cfg.VocabSize = tc.VocabSize
		}
		if len(cfg.Architectures) == 0 {
			cfg.Architectures = tc.Architectures
		}
	}
	return &cfg, nil
}

// MaxInputLength returns the positional limit declared by the config, or 0.
func (c *HFConfig) MaxInputLength() int {
	for _, n := range []int{c.MaxPosition, c.NPositions, c.NCtx} {
		if n > 0 {
			return n
		}
	}
	return 0
}

// Classify decides which family cfg can be loaded as when requested is asked
// for. Requesting Causal from a masked-LM architecture yields CausalMask.
func Classify(requested Family, cfg *HFConfig) (Family, error) {
	if cfg == nil {
		return 0, fmt.Errorf("%w: nil config", ErrUnsupportedFamily)
	}
	arch := ""
	if len(cfg.Architectures) > 0 {
		arch = cfg.Architectures[0]
	}
	lower := strings.ToLower(arch)
	masked := strings.Contains(lower, "maskedlm") || strings.Contains(lower, "forpretraining")
	causal := strings.Contains(lower, "causallm") || strings.Contains(lower, "lmhead")

	if arch == "" {
		// No declared architecture: trust the decoder flag.
		masked = !cfg.IsDecoder && encoderModelTypes[strings.ToLower(cfg.ModelType)]
		causal = !masked
	}

	switch requested {
	case Masked:
		if masked {
			return Masked, nil
		}
	case Causal, CausalMask:
		if masked {
			return CausalMask, nil
		}
		if causal {
			return Causal, nil
		}
	}
	return 0, fmt.Errorf("%w: %s cannot be loaded as %s (architectures=%v)",
		ErrUnsupportedFamily, cfg.ModelType, requested, cfg.Architectures)
}

var encoderModelTypes = map[string]bool{
	"bert":        true,
	"roberta":     true,
	"xlm-roberta": true,
	"distilbert":  true,
	"albert":      true,
	"electra":     true,
	"deberta":     true,
	"deberta-v2":  true,
	"camembert":   true,
	"modernbert":  true,
}
