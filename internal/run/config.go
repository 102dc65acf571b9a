package run

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/score"
)

// ErrConfig reports an unusable run configuration.
var ErrConfig = errors.New("invalid run configuration")

// Config is a run as requested on the command line.
type Config struct {
	Models    []string
	Revisions []string
	Stimuli   []string
	Metrics   []string
	// Primary is the first family tried for each model, "masked" or "causal".
	Primary          string
	IncludeFollowing bool
	UseCPU           bool
	OutputDir        string
	Jobs             int
}

// plan is a validated Config.
type plan struct {
	refs             []model.Ref
	stimuli          []string
	skippedStimuli   []skippedFile
	metrics          []score.Metric
	ignoredMetrics   []string
	primary          model.Family
	includeFollowing bool
	device           model.Device
	outputDir        string
	jobs             int
}

type skippedFile struct {
	path string
	err  error
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// validate checks c and resolves it into a plan. Revisions cross models in
// revision-major order; duplicates are dropped. Stimulus files that cannot
// be read are set aside and only their absence as a whole is an error.
func (c Config) validate() (*plan, error) {
	if strings.TrimSpace(c.OutputDir) == "" {
		return nil, configErr("no output directory")
	}
	models := compact(c.Models)
	if len(models) == 0 {
		return nil, configErr("no models")
	}
	requested := compact(c.Stimuli)
	if len(requested) == 0 {
		return nil, configErr("no stimulus files")
	}
	var stimuli []string
	var skipped []skippedFile
	for _, path := range requested {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			skipped = append(skipped, skippedFile{path: path, err: err})
		case info.IsDir():
			skipped = append(skipped, skippedFile{path: path, err: errors.New("is a directory")})
		default:
			stimuli = append(stimuli, path)
		}
	}
	if len(stimuli) == 0 {
		return nil, configErr("none of the %d stimulus files can be read", len(requested))
	}
	metrics, ignored := score.ParseMetrics(c.Metrics)
	if len(metrics) == 0 {
		return nil, configErr("no valid metric in %q", c.Metrics)
	}
	primary, err := model.ParsePrimary(c.Primary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	revisions := compact(c.Revisions)
	if len(revisions) == 0 {
		revisions = []string{model.LatestRevision}
	}

	var refs []model.Ref
	for _, rev := range revisions {
		for _, id := range models {
			ref := model.Ref{ID: id, Revision: rev}
			if !slices.Contains(refs, ref) {
				refs = append(refs, ref)
			}
		}
	}
	jobs := c.Jobs
	if jobs < 1 {
		jobs = 1
	}
	return &plan{
		refs:             refs,
		stimuli:          stimuli,
		skippedStimuli:   skipped,
		metrics:          metrics,
		ignoredMetrics:   ignored,
		primary:          primary,
		includeFollowing: c.IncludeFollowing,
		device:           model.ResolveDevice(c.UseCPU),
		outputDir:        c.OutputDir,
		jobs:             jobs,
	}, nil
}

// Validate reports whether c can be run.
func (c Config) Validate() error {
	_, err := c.validate()
	return err
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
