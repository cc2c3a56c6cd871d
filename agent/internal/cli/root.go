package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/launchthat/openclaw-connector/agent/internal/config"
)

// Version is set at build time with -ldflags "-X .../cli.Version=...".
var Version = "dev"

// app carries state shared by every command.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	level      *slog.LevelVar
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "lt-openclaw-connect",
		Short: "Deliver OpenClaw events to LaunchThat",
		Long: `lt-openclaw-connect queues OpenClaw agent, room and task events durably on
disk and delivers them in order to the LaunchThat ingestion API, with
bearer authorization, optional HMAC request signing, retries and a
periodic heartbeat.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setupLogging(cmd.ErrOrStderr())
		},
	}

	d := config.Defaults()
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", d.Log.Level, "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", d.Log.Format, "log format: json, text")

	root.AddCommand(
		newRunCmd(a),
		newAuthLinkCmd(a),
		newTrackCmd(a),
		newQueueCmd(a),
		newStatusCmd(a),
		newVersionCmd(),
	)
	return root
}

// setupLogging installs the default slog logger on w. Logs go to stderr so
// command output on stdout stays machine-readable.
func (a *app) setupLogging(w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	a.level.Set(lvl)

	opts := &slog.HandlerOptions{Level: a.level}
	var h slog.Handler
	switch a.logFormat {
	case "json", "":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", a.logFormat)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// connectorFlags maps flag names to config keys.
var connectorFlags = map[string]string{
	"base-url":            "base_url",
	"workspace-id":        "workspace_id",
	"instance-id":         "instance_id",
	"ingest-token":        "ingest_token",
	"ingest-token-env":    "ingest_token_env",
	"ingest-token-file":   "ingest_token_file",
	"signing-secret":      "signing_secret",
	"signing-secret-env":  "signing_secret_env",
	"signing-secret-file": "signing_secret_file",
	"heartbeat-interval":  "heartbeat_interval",
	"request-timeout":     "request_timeout",
	"persist-queue":       "queue.persist",
	"queue-path":          "queue.path",
	"queue-backend":       "queue.backend",
	"api-listen":          "api.listen",
	"inbox-dir":           "inbox.dir",
	"log-level":           "log.level",
	"log-format":          "log.format",
}

// addConnectorFlags registers the connection flags. Defaults mirror
// config.Defaults so an unset flag never masks a config file value with a
// different default.
func addConnectorFlags(cmd *cobra.Command) {
	d := config.Defaults()
	f := cmd.Flags()
	f.String("base-url", d.BaseURL, "LaunchThat base URL")
	f.String("workspace-id", d.WorkspaceID, "workspace ID")
	f.String("instance-id", d.InstanceID, "connector instance ID")
	f.String("ingest-token", "", "ingest token (prefer --ingest-token-env or --ingest-token-file)")
	f.String("ingest-token-env", d.IngestTokenEnv, "environment variable holding the ingest token")
	f.String("ingest-token-file", "", "file holding the ingest token")
	f.String("signing-secret", "", "HMAC signing secret (at least 16 characters)")
	f.String("signing-secret-env", d.SigningSecretEnv, "environment variable holding the signing secret")
	f.String("signing-secret-file", "", "file holding the signing secret")
	f.Duration("heartbeat-interval", d.HeartbeatInterval, "heartbeat interval (minimum 5s)")
	f.Duration("request-timeout", d.RequestTimeout, "timeout for a single HTTP attempt (0 = none)")
	f.Bool("persist-queue", d.Queue.Persist, "persist the queue to disk")
	f.String("queue-path", d.Queue.Path, "queue snapshot path")
	f.String("queue-backend", d.Queue.Backend, "queue backend: file, sqlite")
}

// loadConfig layers file, environment and flags into a Config. It does not
// validate.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper(a.configPath)
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range connectorFlags {
		fl := cmd.Flags().Lookup(name)
		if fl == nil {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "lt-openclaw-connect %s\n", Version)
			return nil
		},
	}
}

func printerFor(cmd *cobra.Command) printer {
	return printer{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
}

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin
