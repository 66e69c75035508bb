package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	pkgauth "switchboard/pkg/auth"
)

// DefaultStatusCheckTimeout bounds the auth status request.
const DefaultStatusCheckTimeout = 10 * time.Second

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect plugin authentication",
	}
	cmd.AddCommand(newAuthStatusCmd())
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	var server, org string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how switchboard authenticates to each plugin of an organization",
		Long: `Queries a running switchboard server for the authentication state of
every plugin instance of an organization. No credentials are shown.

Examples:
  switchboard auth status --org acme
  switchboard auth status --org acme --server https://switchboard.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if org == "" {
				return fmt.Errorf("--org is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), DefaultStatusCheckTimeout)
			defer cancel()

			resp, err := fetchAuthStatus(ctx, http.DefaultClient, server, org)
			if err != nil {
				return err
			}
			renderAuthStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8090", "switchboard server URL")
	cmd.Flags().StringVar(&org, "org", "", "Organization id")
	return cmd
}

func fetchAuthStatus(ctx context.Context, client *http.Client, server, org string) (*pkgauth.StatusResponse, error) {
	endpoint, err := url.JoinPath(server, "api/v1/orgs", org, "auth/status")
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", server, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("server returned %d: %s", res.StatusCode, body)
	}
	var out pkgauth.StatusResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &out, nil
}

func renderAuthStatus(w io.Writer, resp *pkgauth.StatusResponse) {
	fmt.Fprintf(w, "Organization: %s\n", text.FgHiWhite.Sprint(resp.OrganizationID))
	if len(resp.Plugins) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No plugins installed"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"PLUGIN", "METHOD", "STATUS", "EXPIRES", "DETAILS"})
	for _, p := range resp.Plugins {
		expires := "-"
		if p.ExpiresAt > 0 {
			expires = time.Unix(p.ExpiresAt, 0).UTC().Format(time.RFC3339)
		}
		details := p.Error
		if details == "" && !p.Connected() && p.OAuthAvailable {
			details = "OAuth available"
		}
		t.AppendRow(table.Row{p.PluginID, p.Method, formatAuthStatus(p.Status), expires, details})
	}
	t.Render()
}

// formatAuthStatus formats a plugin auth status with colors.
func formatAuthStatus(status string) string {
	switch status {
	case pkgauth.StatusConnected:
		return text.FgGreen.Sprint("Connected")
	case pkgauth.StatusExpired:
		return text.FgYellow.Sprint("Expired")
	case pkgauth.StatusDisconnected:
		return text.FgHiBlack.Sprint("Disconnected")
	case pkgauth.StatusError:
		return text.FgRed.Sprint("Error")
	default:
		return text.FgHiBlack.Sprint(status)
	}
}
