package onnx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// Provider resolves models under a local directory laid out as
// <dir>/<model-id>[@<revision>]/ with config.json, tokenizer.json, an
// optional tokenizer_config.json and model.onnx (or onnx/model.onnx).
type Provider struct {
	Dir     string
	LibPath string
	Log     logger.Logger
}

func NewProvider(dir, libPath string, log logger.Logger) *Provider {
	if log == nil {
		log = logger.Discard()
	}
	return &Provider{Dir: dir, LibPath: LibraryPath(libPath), Log: log}
}

// ModelDir returns the directory holding ref.
func (p *Provider) ModelDir(ref model.Ref) (string, error) {
	if p.Dir == "" {
		return "", errors.New("models directory is not set")
	}
	if ref.ID == "" || strings.Contains(ref.ID, "..") {
		return "", fmt.Errorf("invalid model id %q", ref.ID)
	}
	name := filepath.FromSlash(ref.ID)
	if !ref.IsLatest() {
		name += "@" + ref.Revision
	}
	dir := filepath.Join(p.Dir, name)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", ref, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("model %s: %s is not a directory", ref, dir)
	}
	return dir, nil
}

func (p *Provider) Tokenizer(ctx context.Context, ref model.Ref) (tokenizer.Backend, tokenizer.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, tokenizer.Config{}, err
	}
	dir, err := p.ModelDir(ref)
	if err != nil {
		return nil, tokenizer.Config{}, err
	}
	files := tokenizer.Files{
		TokenizerJSON:   filepath.Join(dir, "tokenizer.json"),
		TokenizerConfig: filepath.Join(dir, "tokenizer_config.json"),
	}
	fast := tokenizer.UseFast(ref.ID)
	p.Log.Debug("loading tokenizer", "model", ref.ID, "revision", ref.Revision, "fast", fast)
	return tokenizer.Load(files, fast)
}

func (p *Provider) Model(ctx context.Context, ref model.Ref, family model.Family, device model.Device) (model.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := p.ModelDir(ref)
	if err != nil {
		return nil, err
	}
	cfg, err := model.LoadHFConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	got, err := model.Classify(family, cfg)
	if err != nil {
		return nil, err
	}
	path, err := graphPath(dir)
	if err != nil {
		return nil, err
	}
	if err := initRuntime(p.LibPath); err != nil {
		return nil, err
	}
	s, err := openSession(path, device, p.Log)
	if err != nil {
		return nil, err
	}
	p.Log.Debug("opened onnx session", "model", ref.ID, "family", got.String(), "device", string(s.device), "path", path)
	return &Model{sess: s, family: got, maxLen: cfg.MaxInputLength()}, nil
}

func graphPath(dir string) (string, error) {
	for _, rel := range []string{"model.onnx", filepath.Join("onnx", "model.onnx")} {
		path := filepath.Join(dir, rel)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no model.onnx in %s", dir)
}

// List returns the ids (with "@revision" suffixes) of every model directory
// that holds a config.json.
func (p *Provider) List(ctx context.Context) ([]string, error) {
	if p.Dir == "" {
		return nil, errors.New("models directory is not set")
	}
	var ids []string
	err := filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "config.json" {
			return nil
		}
		rel, err := filepath.Rel(p.Dir, filepath.Dir(path))
		if err != nil || rel == "." {
			return nil
		}
		ids = append(ids, filepath.ToSlash(rel))
		return fs.SkipDir
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// ParseListedID splits "org/name@rev" into a reference.
func ParseListedID(s string) model.Ref {
	id, rev, ok := strings.Cut(s, "@")
	if !ok {
		return model.Ref{ID: s, Revision: model.LatestRevision}
	}
	return model.Ref{ID: id, Revision: rev}
}
