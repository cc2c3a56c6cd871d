package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/launchthat/openclaw-connector/agent/internal/api"
	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/connector"
	"github.com/launchthat/openclaw-connector/agent/internal/inbox"
	"github.com/launchthat/openclaw-connector/agent/internal/secret"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var noPrompt bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connector until interrupted",
		Example: `  lt-openclaw-connect run --base-url=https://app.launchthat.com \
    --workspace-id=ws_123 --instance-id=inst_456 --ingest-token-env=LAUNCHTHAT_INGEST_TOKEN
  lt-openclaw-connect run --config /etc/lt-openclaw/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.IngestToken == "" && !noPrompt {
				token, err := secret.Resolve(secret.Source{PromptLabel: "Ingest token: "})
				if err != nil && !errors.Is(err, secret.ErrNotFound) {
					return err
				}
				cfg.IngestToken = token
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if lvl, err := cfg.Log.SlogLevel(); err == nil {
				a.level.Set(lvl)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd, cfg)
		},
	}

	addConnectorFlags(cmd)
	cmd.Flags().String("api-listen", "", "serve the local producer API on host:port")
	cmd.Flags().String("inbox-dir", "", "watch this directory for *.json event files")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "never prompt for a missing ingest token")
	return cmd
}

// run starts the connector and its producers and blocks until ctx is done.
func (a *app) run(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	conn, err := connector.New(cfg)
	if err != nil {
		return err
	}
	if err := conn.Start(ctx); err != nil {
		_ = conn.Stop(context.Background())
		return err
	}
	printerFor(cmd).success("Connector running for instance %s. Press Ctrl+C to stop.", cfg.InstanceID)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Listen != "" {
		srv := &http.Server{
			Addr: cfg.API.Listen,
			Handler: api.RequestID(api.WithAPIKey(
				cfg.API.Auth.Mode, cfg.API.Auth.Header, cfg.API.Auth.Key(), api.New(conn))),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("api: listening", "addr", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if cfg.Inbox.Dir != "" {
		w := inbox.New(cfg.Inbox.Dir, conn)
		g.Go(func() error { return w.Run(gctx) })
	}

	if a.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, a.configPath, config.ApplyLogLevel(a.level)); err != nil {
				slog.Error("config: watcher stopped", "err", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	runErr := g.Wait()
	if runErr != nil {
		slog.Error("run: component failed", "err", runErr)
	}

	slog.Info("run: shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := conn.Stop(sctx); err != nil {
		return err
	}
	return runErr
}
