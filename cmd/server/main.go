package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"codex-bridge/internal/agent"
	"codex-bridge/internal/auth"
	"codex-bridge/internal/config"
	"codex-bridge/internal/devices"
	"codex-bridge/internal/hub"
	"codex-bridge/internal/pairing"
	"codex-bridge/internal/plan"
	"codex-bridge/internal/server"
	"codex-bridge/internal/sessionlog"
	"codex-bridge/internal/translate"
)

func main() {
	root := &cobra.Command{
		Use:          "codex-bridge",
		Short:        "Relay between a local agent CLI and its clients",
		SilenceUsage: true,
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)

	tokenCfg := auth.TokenConfig{Secret: cfg.TokenSecret, Issuer: "codex-bridge"}
	deviceStore := devices.NewStore(cfg.DevicesFile, tokenCfg)
	authorizer := &auth.Authorizer{
		RemoteEnabled:   cfg.RemoteEnabled,
		ManagementToken: cfg.ManagementToken,
		Devices:         deviceStore,
	}

	sessions := sessionlog.NewStore(cfg.SessionsRoot, cfg.SessionsTrashDir)
	plans := plan.NewStore()
	translator := translate.NewService(translate.Config{
		Enabled:           cfg.Translation.Enabled,
		TargetLocale:      cfg.Translation.TargetLocale,
		Model:             cfg.Translation.Model,
		MaxRequestsPerSec: cfg.Translation.MaxRequestsPerSec,
		MaxConcurrency:    int64(cfg.Translation.MaxConcurrency),
		MaxInputChars:     cfg.Translation.MaxInputChars,
	}, translate.NewCache(cfg.TranslationsFile), nil)
	pairingSvc := pairing.NewService(cfg.RemoteEnabled, cfg.PairingCodeTTL, cfg.PairingRequestTTL, deviceStore)

	// Agent wiring is an embedding concern; standalone the bridge serves
	// session history and pairing, and chat commands answer with an error.
	h := hub.New(agent.NewNopRunner(), plans, translator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go h.Run(ctx)

	router := server.NewRouter(server.Deps{
		Authorizer:    authorizer,
		Sessions:      sessions,
		Plans:         plans,
		Translator:    translator,
		Pairing:       pairingSvc,
		Devices:       deviceStore,
		Hub:           h,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	return server.Run(ctx, cfg, router)
}
