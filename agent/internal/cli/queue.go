package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/connector"
	"github.com/launchthat/openclaw-connector/agent/internal/queue"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// queueView is the JSON form of "queue show".
type queueView struct {
	Path    string        `json:"path"`
	Backend string        `json:"backend"`
	Depth   int           `json:"depth"`
	Events  []types.Event `json:"events"`
}

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the persisted event queue",
	}
	cmd.AddCommand(newQueueShowCmd(a))
	return cmd
}

func newQueueShowCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the queue depth and the oldest events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			p := printerFor(cmd)
			if !cfg.Queue.Persist {
				p.warn("Queue persistence is disabled; nothing on disk")
				return nil
			}

			store, err := connector.OpenStore(cfg.Queue)
			if err != nil {
				return err
			}
			q := queue.New(store)
			defer q.Close()
			q.Restore(context.Background())

			events := q.Snapshot()
			shown := events
			if limit >= 0 && len(shown) > limit {
				shown = shown[:limit]
			}

			if asJSON {
				return p.json(queueView{
					Path:    cfg.Queue.Path,
					Backend: cfg.Queue.Backend,
					Depth:   len(events),
					Events:  shown,
				})
			}

			p.info("%s (%s): %d event(s) queued", cfg.Queue.Path, cfg.Queue.Backend, len(events))
			if len(shown) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			headerColor.Fprintln(tw, "EVENT ID\tTYPE\tOCCURRED AT\tIDEMPOTENCY KEY")
			for _, ev := range shown {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					ev.EventID, ev.EventType, formatMillis(ev.OccurredAt), ev.IdempotencyKey)
			}
			return tw.Flush()
		},
	}

	d := config.Defaults()
	cmd.Flags().String("queue-path", d.Queue.Path, "queue snapshot path")
	cmd.Flags().String("queue-backend", d.Queue.Backend, "queue backend: file, sqlite")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events to list (-1 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// formatMillis renders epoch milliseconds as RFC 3339, or the raw number when
// it is clearly not a millisecond timestamp.
func formatMillis(ms int64) string {
	if ms < 1e11 {
		return strconv.FormatInt(ms, 10)
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
