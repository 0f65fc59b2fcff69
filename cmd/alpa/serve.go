package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/truelegion47/alpa/internal/api"
	"github.com/truelegion47/alpa/internal/inference"
	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/tokenizer"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := append([]cli.Flag{}, modelFlags()...)
	flags = append(flags, tokenizerFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the completions REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, loadFileConfig(), &addr)

			if tokenizerJSON == "" {
				return cli.Exit("error: --tokenizer is required", 1)
			}
			m, err := loadModel(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			tok, err := tokenizer.OpenHF(tokenizerJSON)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
			}
			engine := inference.New(m, tok, log)
			defer engine.Close()

			server := api.NewServer(engine, "opt-"+modelSize, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "size", modelSize)
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
