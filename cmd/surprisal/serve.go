package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/api"
	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		following   bool
		maxModels   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the surprisal scoring API",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "following-context",
				Aliases:     []string{"f"},
				Usage:       "default for requests that omit following_context",
				Destination: &following,
			},
			&cli.Int64Flag{
				Name:        "max-models",
				Usage:       "models kept loaded at once; the least recently used is closed",
				Value:       api.DefaultMaxModels,
				Destination: &maxModels,
			},
		}, decoderFlags()...), providerFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr, &following)

			primary, err := model.ParsePrimary(primaryDecoder)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			provider, err := newProvider(providerKind, modelsDir, onnxLib, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			server := api.NewServer(api.Config{
				Provider:         provider,
				Primary:          primary,
				IncludeFollowing: following,
				Device:           model.ResolveDevice(useCPU),
				MaxModels:        int(maxModels),
				Log:              log,
			})
			defer func() {
				if err := server.Close(); err != nil {
					log.Warn("closing models", "err", err)
				}
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "provider", providerKind)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
