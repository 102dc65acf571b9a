package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
)

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls", "list-models"},
		Usage:   "List models available to the provider",
		Flags:   providerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyCommonConfig(cmd, LoadConfig())

			provider, err := newProvider(providerKind, modelsDir, onnxLib, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			lister, ok := provider.(model.Lister)
			if !ok {
				return cli.Exit(fmt.Sprintf("error: provider %s cannot list models", providerKind), 1)
			}
			ids, err := lister.List(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(ids) == 0 {
				log.Info("no models found", "path", modelsDir)
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
