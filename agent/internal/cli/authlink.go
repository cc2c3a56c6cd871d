package cli

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
)

const authLinkTimeout = 30 * time.Second

func newAuthLinkCmd(_ *app) *cobra.Command {
	var baseURL, workspaceID, instanceName string

	cmd := &cobra.Command{
		Use:   "auth-link",
		Short: "Request an authorization link for a new instance",
		Long: `auth-link asks LaunchThat for a one-time authorization URL for a new
connector instance and prints the response as JSON. The request is sent
once without retry or authentication.`,
		Example: `  lt-openclaw-connect auth-link --base-url=https://app.launchthat.com \
    --workspace-id=ws_123 --instance-name="Build server"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if baseURL == "" || workspaceID == "" || instanceName == "" {
				return errors.New("--base-url, --workspace-id and --instance-name are required")
			}
			hc := &http.Client{Timeout: authLinkTimeout}
			link, err := delivery.StartAuthLink(cmd.Context(), hc, baseURL, workspaceID, instanceName)
			if err != nil {
				return err
			}
			return printerFor(cmd).json(link)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "LaunchThat base URL")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace ID")
	cmd.Flags().StringVar(&instanceName, "instance-name", "", "display name for the new instance")
	return cmd
}
