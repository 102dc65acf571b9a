// Package run drives a scoring run: every revision of every model over every
// line of every stimulus file, one output file per stimulus file and metric.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/samcharles93/surprisal/internal/align"
	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/results"
	"github.com/samcharles93/surprisal/internal/score"
	"github.com/samcharles93/surprisal/internal/stimuli"
)

// Summary counts what a run did.
type Summary struct {
	RunID         string
	ModelsDone    int
	ModelsSkipped int
	RowsWritten   int
	LinesFailed   int
	// Outputs lists the files written, in completion order.
	Outputs []string
}

type Runner struct {
	plan     *plan
	provider model.Provider
	log      logger.Logger

	mu      sync.Mutex
	summary Summary
}

// New validates cfg and returns a Runner that loads models from p.
func New(cfg Config, p model.Provider, log logger.Logger) (*Runner, error) {
	pl, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, configErr("no model provider")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{plan: pl, provider: p, log: log}, nil
}

// Run scores everything in the plan. Per-model and per-line failures are
// logged and counted; the returned error is non-nil only when the run
// itself cannot continue.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	id := uuid.NewString()
	log := r.log.With("run_id", id)
	ctx = logger.WithContext(ctx, log)
	r.summary = Summary{RunID: id}

	for _, name := range r.plan.ignoredMetrics {
		log.Warn("ignoring unknown metric", "metric", name)
	}
	for _, f := range r.plan.skippedStimuli {
		log.Warn("skipping stimulus file", "file", f.path, "err", f.err)
	}
	if err := os.MkdirAll(r.plan.outputDir, 0o755); err != nil {
		return r.snapshot(), fmt.Errorf("create output directory: %w", err)
	}
	log.Info("starting run",
		"models", len(r.plan.refs),
		"files", len(r.plan.stimuli),
		"primary", r.plan.primary.String(),
		"device", string(r.plan.device),
		"cpu_features", cpuFeatures(),
		"jobs", r.plan.jobs,
	)

	var err error
	if r.plan.jobs > 1 {
		p := pool.New().WithMaxGoroutines(r.plan.jobs).WithContext(ctx)
		for _, ref := range r.plan.refs {
			p.Go(func(ctx context.Context) error {
				return r.runModel(ctx, ref)
			})
		}
		err = p.Wait()
	} else {
		for _, ref := range r.plan.refs {
			if err = r.runModel(ctx, ref); err != nil {
				break
			}
		}
	}

	s := r.snapshot()
	log.Info("run finished",
		"models_done", s.ModelsDone,
		"models_skipped", s.ModelsSkipped,
		"rows", s.RowsWritten,
		"failed_lines", s.LinesFailed,
	)
	return s, err
}

func (r *Runner) snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Outputs = append([]string(nil), r.summary.Outputs...)
	return s
}

func (r *Runner) count(fn func(*Summary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

// runModel loads ref, scores every file with it and releases it. Only a
// cancelled context is returned as an error.
func (r *Runner) runModel(ctx context.Context, ref model.Ref) error {
	log := logger.FromContext(ctx).With("model", ref.ID, "revision", ref.Revision)
	state := Unloaded
	move := func(next State) {
		log.Debug("model state", "from", state.String(), "to", next.String())
		state = next
	}
	skip := func(msg string, err error) {
		log.Error(msg, "err", err)
		move(Skipped)
		r.count(func(s *Summary) { s.ModelsSkipped++ })
	}

	tok, err := model.LoadTokenizer(ctx, r.provider, ref)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		skip("skipping model: tokenizer failed to load", err)
		return nil
	}
	move(TokenizerReady)

	m, err := model.LoadModel(ctx, r.provider, ref, r.plan.primary, r.plan.device)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		skip("skipping model: no usable architecture", err)
		return nil
	}
	lm := &model.LoadedModel{Ref: ref, Tokenizer: tok, Model: m, Device: r.plan.device}
	defer func() {
		if cerr := lm.Close(); cerr != nil {
			log.Warn("closing model", "err", cerr)
		}
	}()
	move(ModelReady)
	log.Info("model loaded", "family", lm.Family().String(), "device", string(lm.Device))

	move(Running)
	for _, path := range r.plan.stimuli {
		if err := r.runFile(ctx, lm, path, log.With("file", path)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("stimulus file failed", "file", path, "err", err)
		}
	}
	move(Done)
	r.count(func(s *Summary) { s.ModelsDone++ })
	return nil
}

func (r *Runner) runFile(ctx context.Context, lm *model.LoadedModel, path string, log logger.Logger) error {
	lines, err := stimuli.ReadFile(ctx, path)
	if err != nil {
		return err
	}

	base := stimuli.BaseName(path)
	writers := make([]*results.Writer, 0, len(r.plan.metrics))
	defer func() {
		for _, w := range writers {
			if err := w.Close(); err != nil {
				log.Warn("closing output", "path", w.Path(), "err", err)
			}
			log.Debug("wrote output", "path", w.Path(), "rows", w.Rows())
			r.count(func(s *Summary) { s.RowsWritten += w.Rows() })
		}
	}()
	for _, metric := range r.plan.metrics {
		w, err := results.Create(results.FileName(r.plan.outputDir, base, metric, lm.Ref, lm.Family()), metric)
		if err != nil {
			return err
		}
		writers = append(writers, w)
		r.count(func(s *Summary) { s.Outputs = append(s.Outputs, w.Path()) })
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, span, err := ScoreLine(ctx, lm, line.Text, r.plan.includeFollowing)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Error("skipping stimulus", "line", line.Number, "stimulus", line.Text, "err", err)
			r.count(func(s *Summary) { s.LinesFailed++ })
			continue
		}
		for i, metric := range r.plan.metrics {
			row.Value, err = span.Value(metric)
			if err == nil {
				err = writers[i].Append(row)
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", line.Number, err)
			}
		}
	}
	return nil
}

// ScoreLine aligns and scores one stimulus with lm. The returned row has no
// Value; callers fill it per metric from span. Panics from tokenizer or
// model code are returned as errors.
func ScoreLine(ctx context.Context, lm *model.LoadedModel, stimulus string, includeFollowing bool) (row results.Row, span score.SpanScore, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while scoring: %v", rec)
		}
	}()
	tok := lm.Tokenizer
	part, err := align.Align(stimulus, tok)
	if err != nil {
		return row, span, err
	}
	span, err = score.Span(ctx, lm.Model, tok, part, includeFollowing)
	if err != nil {
		return row, span, err
	}
	sentence, err := align.Sentence(part, tok, includeFollowing)
	if err != nil {
		return row, span, err
	}
	target, err := align.TargetText(part, tok)
	if err != nil {
		return row, span, err
	}
	row = results.Row{
		FullSentence: align.StripMarkers(align.Unescape(stimulus)),
		Sentence:     sentence,
		Target:       target,
		NumTokens:    span.NumTokens,
	}
	return row, span, nil
}
