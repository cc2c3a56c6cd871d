package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchthat/openclaw-connector/agent/internal/connector"
	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/agent/internal/queue"
	"github.com/launchthat/openclaw-connector/agent/internal/scraper"
)

func newTrackCmd(a *app) *cobra.Command {
	var (
		file    string
		apiURL  string
		noFlush bool
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Queue events from a file or stdin and flush once",
		Long: `track validates one event, a JSON array of events, or an {"events": [...]}
envelope, appends them to the persisted queue and attempts one flush.
Events that cannot be delivered stay queued for the next run.

When a "run" daemon holds the queue, the events are sent to its local API
instead, addressed by --api-url or api.listen.`,
		Example: `  lt-openclaw-connect track --file event.json
  echo '{"eventId":"e1","eventType":"task_started","occurredAt":1700000000000}' | lt-openclaw-connect track`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}
			records, err := event.Records(raw)
			if err != nil {
				return err
			}

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := connector.New(cfg)
			if errors.Is(err, queue.ErrLocked) {
				return submitToDaemon(cmd, cfg, apiURL, records, err)
			}
			if err != nil {
				return err
			}
			return trackRecords(cmd, conn, records, noFlush)
		},
	}

	addConnectorFlags(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "event file, or - for stdin")
	cmd.Flags().BoolVar(&noFlush, "no-flush", false, "only queue the events")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "local API of a running daemon (default derived from api.listen)")
	cmd.Flags().String("api-listen", "", "address the daemon serves its local API on")
	return cmd
}

func trackRecords(cmd *cobra.Command, conn *connector.Connector, records []json.RawMessage, noFlush bool) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if serr := conn.Stop(context.Background()); serr != nil && err == nil {
			err = serr
		}
	}()

	p := printerFor(cmd)
	for i, rec := range records {
		ev, err := conn.Enqueue(ctx, connector.SourceCLI, rec)
		if err != nil {
			if i > 0 {
				p.warn("%d event(s) queued before the failure", i)
			}
			return fmt.Errorf("event %d: %w", i, err)
		}
		p.info("queued %s (%s)", ev.EventID, ev.EventType)
	}
	p.success("Queued %d event(s)", len(records))

	if noFlush {
		return nil
	}
	if err := conn.Flush(ctx); err != nil {
		p.warn("Delivery failed, %d event(s) remain queued: %v", conn.Status().QueueDepth, err)
		return nil
	}
	p.success("Delivered; queue is empty")
	return nil
}

// submitToDaemon hands records to the daemon that owns the queue. Without a
// local API address the lock error is returned as is.
func submitToDaemon(cmd *cobra.Command, cfg *config.Config, apiURL string, records []json.RawMessage, lockErr error) error {
	if apiURL == "" {
		if cfg.API.Listen == "" {
			return fmt.Errorf("%w; start the daemon with --api-listen and pass --api-url to send events through it", lockErr)
		}
		u, err := listenURL(cfg.API.Listen)
		if err != nil {
			return err
		}
		apiURL = u
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	p := printerFor(cmd)
	res, err := scraper.New(apiURL, cfg.API.Auth).Submit(ctx, records)
	if err != nil {
		var se *scraper.SubmitError
		if errors.As(err, &se) && se.Accepted > 0 {
			p.warn("%d event(s) queued by the daemon before the failure", se.Accepted)
		}
		return err
	}
	p.success("Sent %d event(s) to the running connector at %s (queue depth %d)", res.Accepted, apiURL, res.QueueDepth)
	return nil
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return b, nil
}
