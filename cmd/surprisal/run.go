package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/run"
)

func runCmd() *cli.Command {
	var f runFlags

	return &cli.Command{
		Name:  "run",
		Usage: "Compute surprisal for every stimulus file under every model",
		Flags: append(append(f.flags(), decoderFlags()...), providerFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, LoadConfig(), &f)

			cfg, err := f.config(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			provider, err := newProvider(providerKind, modelsDir, onnxLib, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			r, err := run.New(cfg, provider, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			sum, err := r.Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return cli.Exit("interrupted", 130)
				}
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for _, path := range sum.Outputs {
				fmt.Println(path)
			}
			if sum.ModelsDone == 0 {
				return cli.Exit("error: no model could be loaded", 1)
			}
			return nil
		},
	}
}

// config resolves list files and builds the run configuration. Only the
// output directory is created here; the runner validates the rest.
func (f *runFlags) config(log logger.Logger) (run.Config, error) {
	stims := resolveList(log, f.stimuliList, f.stimuli)
	models := resolveList(log, f.modelList, f.models...)
	revisions := resolveList(log, f.revisionList, f.revision)
	tasks := resolveList(log, f.taskList, f.task)
	out, err := resolveOutputDir(f.outputDir)
	if err != nil {
		return run.Config{}, fmt.Errorf("%w: %w", run.ErrConfig, err)
	}
	return run.Config{
		Models:           models,
		Revisions:        revisions,
		Stimuli:          stims,
		Metrics:          tasks,
		Primary:          primaryDecoder,
		IncludeFollowing: f.followingContext,
		UseCPU:           useCPU,
		OutputDir:        out,
		Jobs:             int(f.jobs),
	}, nil
}
