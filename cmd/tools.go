package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"switchboard/internal/mcpclient"
	"switchboard/internal/plugin"
	"switchboard/internal/runtime"
)

// maxDescriptionWidth truncates tool descriptions in the table.
const maxDescriptionWidth = 60

type toolsOptions struct {
	url     string
	sse     bool
	headers []string
	timeout time.Duration
}

func newToolsCmd() *cobra.Command {
	var opts toolsOptions

	cmd := &cobra.Command{
		Use:   "tools [plugin-id]",
		Short: "List the tools a plugin server exposes",
		Long: `Connects to a plugin MCP server and lists its tools.

The server is either given with --url or looked up by plugin id in the
manifest directory configured in config.yaml.

Examples:
  switchboard tools --url http://localhost:8931/mcp
  switchboard tools github
  switchboard tools --url https://mcp.example.com --header "Authorization: Bearer $TOKEN"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pluginID := ""
			if len(args) == 1 {
				pluginID = args[0]
			}
			client, err := toolsClient(pluginID, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			tools, err := client.ListTools(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tools: %w", err)
			}
			renderTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "MCP endpoint URL")
	cmd.Flags().BoolVar(&opts.sse, "sse", false, "Prefer event-stream responses")
	cmd.Flags().StringArrayVar(&opts.headers, "header", nil, `Extra request header, "Name: value" (repeatable)`)
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")
	return cmd
}

func toolsClient(pluginID string, opts toolsOptions) (mcpclient.Client, error) {
	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}
	httpOpts := mcpclient.HTTPOptions{
		Headers: func(context.Context) (map[string]string, error) { return headers, nil },
	}

	if opts.url != "" {
		if opts.sse {
			return mcpclient.NewSSEClient(opts.url, httpOpts), nil
		}
		return mcpclient.NewHTTPClient(opts.url, httpOpts), nil
	}
	if pluginID == "" {
		return nil, fmt.Errorf("either a plugin id or --url is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	catalog := plugin.NewCatalog(cfg.Plugins.ManifestDir)
	if err := catalog.Load(); err != nil {
		return nil, fmt.Errorf("failed to load manifests: %w", err)
	}
	man, err := catalog.Manifest(pluginID)
	if err != nil {
		return nil, err
	}

	switch man.Transport {
	case plugin.TransportStdio:
		return mcpclient.NewStdioClient(man.Command, man.Args, nil), nil
	case plugin.TransportSSE:
		return mcpclient.NewSSEClient(runtime.EndpointURL(man), httpOpts), nil
	default:
		return mcpclient.NewHTTPClient(runtime.EndpointURL(man), httpOpts), nil
	}
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

func renderTools(w io.Writer, tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No tools found"))
		return
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("DESCRIPTION"),
		text.FgHiCyan.Sprint("REQUIRED"),
	})
	for _, tool := range tools {
		desc := strings.Join(strings.Fields(tool.Description), " ")
		if len(desc) > maxDescriptionWidth {
			desc = desc[:maxDescriptionWidth-3] + "..."
		}
		t.AppendRow(table.Row{tool.Name, desc, strings.Join(tool.InputSchema.Required, ", ")})
	}
	t.Render()

	fmt.Fprintf(w, "\n%s %s\n", text.FgHiBlue.Sprint("Total:"), text.FgHiWhite.Sprint(len(tools)))
}
