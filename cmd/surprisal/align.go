package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/align"
	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

func alignCmd() *cli.Command {
	var (
		modelID  string
		revision string
	)

	return &cli.Command{
		Name:      "align",
		Usage:     "Show how a stimulus is split into context, target and following tokens",
		ArgsUsage: "<stimulus>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model id whose tokenizer is used",
				Required:    true,
				Destination: &modelID,
			},
			&cli.StringFlag{
				Name:        "model-revision",
				Aliases:     []string{"r"},
				Value:       model.LatestRevision,
				Destination: &revision,
			},
		}, providerFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyCommonConfig(cmd, LoadConfig())
			stimulus := strings.Join(cmd.Args().Slice(), " ")
			if stimulus == "" {
				return cli.Exit("error: a stimulus argument is required", 1)
			}

			provider, err := newProvider(providerKind, modelsDir, onnxLib, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			tok, err := model.LoadTokenizer(ctx, provider, model.Ref{ID: modelID, Revision: revision})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			part, err := align.Align(stimulus, tok)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return printAlignment(os.Stdout, tok, part)
		},
	}
}

func printAlignment(w io.Writer, tok *tokenizer.Adapter, part align.Partition) error {
	sections := []struct {
		name string
		ids  []int
	}{
		{"preceding", part.Preceding},
		{"target", part.Target},
		{"following", part.Following},
	}
	for _, s := range sections {
		pieces := make([]string, 0, len(s.ids))
		for _, id := range s.ids {
			text, ok := tok.TokenString(id)
			if !ok {
				text = "?"
			}
			pieces = append(pieces, fmt.Sprintf("%d:%q", id, text))
		}
		if _, err := fmt.Fprintf(w, "%-10s %s\n", s.name, strings.Join(pieces, " ")); err != nil {
			return err
		}
	}
	target, err := align.TargetText(part, tok)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%-10s %q\n", "words", target)
	return err
}
