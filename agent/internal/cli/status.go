package cli

import (
	"context"
	"fmt"
	"net"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchthat/openclaw-connector/agent/internal/scraper"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		apiURL string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report on a running connector through its local API",
		Long: `status reads /api/v1/status and /metrics from a connector started with
"run --api-listen". The address comes from --api-url, or from api.listen in
the config file. API key authentication uses api.auth from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if apiURL == "" {
				if apiURL, err = listenURL(cfg.API.Listen); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			res, err := scraper.New(apiURL, cfg.API.Auth).Scrape(ctx)
			if err != nil {
				return err
			}

			p := printerFor(cmd)
			if asJSON {
				return p.json(res)
			}
			printStatus(p, cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "local API base URL (default derived from api.listen)")
	cmd.Flags().String("api-listen", "", "address the daemon serves its local API on")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// listenURL turns a host:port listen address into a loopback URL.
func listenURL(listen string) (string, error) {
	if listen == "" {
		return "", fmt.Errorf("no local API address: set --api-url or api.listen")
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid api.listen %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func printStatus(p printer, cmd *cobra.Command, res *scraper.Result) {
	st := res.Status
	p.info("%s: %s (instance %s)", res.Endpoint, st.State, st.InstanceID)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	row := func(k string, v interface{}) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	row("queue depth", st.QueueDepth)
	row("flushing", st.Flushing)
	if st.Persist {
		row("queue", fmt.Sprintf("%s (%s)", st.QueuePath, st.QueueBackend))
	} else {
		row("queue", "memory only")
	}
	row("signing", st.Signing)
	row("last delivery", formatTime(st.LastDelivery))
	row("last heartbeat", formatTime(st.LastHeartbeat))
	if st.PeerCert != nil {
		row("peer certificate", fmt.Sprintf("%s, %d day(s) left", st.PeerCert.Status, st.PeerCert.DaysLeft))
	}
	for _, k := range []string{
		scraper.EventsTracked,
		scraper.EventsDelivered,
		scraper.BatchesDelivered,
		scraper.ValidationFailures,
		scraper.PersistErrors,
		scraper.FlushFailures,
		scraper.SendErrors,
		scraper.HeartbeatsOK,
		scraper.HeartbeatsFailed,
		scraper.InboxRejected,
	} {
		row(k, res.Counters[k])
	}
	_ = tw.Flush()

	if st.PeerCert != nil && st.PeerCert.Status != "valid" {
		p.warn("Ingestion API certificate is %s", st.PeerCert.Status)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
