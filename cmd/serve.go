package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/api"
	"github.com/sells-group/governance-engine/internal/monitoring"
	"github.com/sells-group/governance-engine/internal/seed"
)

var (
	servePort int
	serveSeed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator API with the policy scheduler and candidate scanner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if serveSeed {
			f, err := seed.Default()
			if err != nil {
				return err
			}
			res, err := seed.Apply(ctx, env.Store, f, false)
			if err != nil {
				return err
			}
			zap.L().Info("default seed applied",
				zap.Int("triggers", res.TriggersCreated),
				zap.Int("rules", res.RulesCreated),
			)
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		env.Engine.OnPass(alerter.NotifyPass)

		var wg sync.WaitGroup
		background := func(name string, fn func(context.Context)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx)
			}()
			zap.L().Debug("background loop started", zap.String("loop", name))
		}

		if cfg.Governance.Enabled {
			background("policy", func(ctx context.Context) {
				env.Engine.Run(ctx, cfg.Governance.CheckInterval())
			})
		}
		if cfg.Evolution.Enabled {
			background("evolution", env.Scanner.Run)
		}
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), alerter, cfg.Monitoring)
			background("monitoring", checker.Run)
		}

		router := api.NewRouter(api.Deps{
			Store:       env.Store,
			Engine:      env.Engine,
			Reverter:    env.Reverter,
			Reader:      env.Reader,
			Workflow:    env.Workflow,
			Scanner:     env.Scanner,
			StatsWindow: statsWindow(),
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			wg.Wait()
			return eris.Wrap(err, "server listen")
		}

		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "apply the default seed before serving (existing entries are kept)")
	rootCmd.AddCommand(serveCmd)
}
