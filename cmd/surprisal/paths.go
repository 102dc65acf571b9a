package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/onnx"
	"github.com/samcharles93/surprisal/internal/stimuli"
	"github.com/samcharles93/surprisal/internal/toy"
)

// resolveList returns the entries of listFile when it is set and readable,
// otherwise the non-empty single values.
func resolveList(log logger.Logger, listFile string, single ...string) []string {
	if listFile = strings.TrimSpace(listFile); listFile != "" {
		items, err := stimuli.ReadList(listFile)
		if err == nil {
			return items
		}
		log.Warn("cannot read list file, using single value", "file", listFile, "err", err)
	}
	var out []string
	for _, s := range single {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveOutputDir cleans dir and creates it.
func resolveOutputDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", fmt.Errorf("--output-directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// newProvider builds the model provider named by kind.
func newProvider(kind, dir, libPath string, log logger.Logger) (model.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "onnx":
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return nil, fmt.Errorf("--models-dir is required unless %s is set", envModelsDir)
		}
		st, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("models path is not a directory: %s", dir)
		}
		return onnx.NewProvider(dir, libPath, log), nil
	case "toy":
		return toy.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want onnx or toy)", kind)
	}
}
