package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/score"
)

const (
	envModelsDir = "SURPRISAL_MODELS_DIR"
	envORTLib    = "ORT_LIB_PATH"
)

var (
	modelsDir      string
	providerKind   string
	onnxLib        string
	primaryDecoder string
	useCPU         bool
	logLevel       string
	logFormat      string
	debug          bool
)

func providerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "models-dir",
			Usage:       "directory holding <model-id>[@revision]/ model folders",
			Sources:     cli.EnvVars(envModelsDir),
			Destination: &modelsDir,
		},
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "model provider (onnx, toy)",
			Value:       "onnx",
			Destination: &providerKind,
		},
		&cli.StringFlag{
			Name:        "onnxruntime-lib",
			Usage:       "path to the onnxruntime shared library",
			Sources:     cli.EnvVars(envORTLib),
			Destination: &onnxLib,
		},
		&cli.BoolFlag{
			Name:        "use-cpu",
			Aliases:     []string{"cpu"},
			Usage:       "run models on the CPU even when a GPU is available",
			Destination: &useCPU,
		},
	}
}

func decoderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "primary-decoder",
			Aliases:     []string{"d"},
			Usage:       "architecture tried first for each model (masked, causal)",
			Value:       model.Masked.String(),
			Destination: &primaryDecoder,
		},
	}
}

// runFlags are the scoring-run inputs. A list file takes precedence over
// the matching single-value flag.
type runFlags struct {
	stimuli          string
	stimuliList      string
	outputDir        string
	models           []string
	modelList        string
	revision         string
	revisionList     string
	task             string
	taskList         string
	followingContext bool
	jobs             int64
}

func (f *runFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "stimuli",
			Aliases:     []string{"i"},
			Usage:       "stimulus file, one stimulus per line",
			Destination: &f.stimuli,
		},
		&cli.StringFlag{
			Name:        "stimuli-list",
			Aliases:     []string{"ii"},
			Usage:       "file listing stimulus files, one per line",
			Destination: &f.stimuliList,
		},
		&cli.StringFlag{
			Name:        "output-directory",
			Aliases:     []string{"o"},
			Usage:       "directory for result files",
			Destination: &f.outputDir,
		},
		&cli.StringSliceFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model id (repeatable)",
			Destination: &f.models,
		},
		&cli.StringFlag{
			Name:        "model-list",
			Aliases:     []string{"mm"},
			Usage:       "file listing model ids, one per line",
			Destination: &f.modelList,
		},
		&cli.StringFlag{
			Name:        "model-revision",
			Aliases:     []string{"r"},
			Usage:       "model revision",
			Value:       model.LatestRevision,
			Destination: &f.revision,
		},
		&cli.StringFlag{
			Name:        "model-revision-list",
			Aliases:     []string{"rr"},
			Usage:       "file listing model revisions, one per line",
			Destination: &f.revisionList,
		},
		&cli.StringFlag{
			Name:        "task",
			Aliases:     []string{"t"},
			Usage:       "metric to compute",
			Value:       score.Surprisal.String(),
			Destination: &f.task,
		},
		&cli.StringFlag{
			Name:        "task-list",
			Aliases:     []string{"tt"},
			Usage:       "file listing metrics, one per line",
			Destination: &f.taskList,
		},
		&cli.BoolFlag{
			Name:        "following-context",
			Aliases:     []string{"f"},
			Usage:       "give masked models the words after the target as context",
			Destination: &f.followingContext,
		},
		&cli.Int64Flag{
			Name:        "jobs",
			Aliases:     []string{"j"},
			Usage:       "models scored concurrently",
			Value:       1,
			Destination: &f.jobs,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
