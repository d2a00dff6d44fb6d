// Package cli implements the image-sage command-line interface.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"image-sage-server-go/internal/bootstrap"
	platformconfig "image-sage-server-go/internal/platform/config"
)

const appName = "image-sage"

var (
	version = "dev"
	commit  string
)

// SetVersion sets the version shown by --version. Called from main with
// values injected via ldflags.
func SetVersion(v, c string) {
	if v != "" {
		version = v
	}
	commit = c
}

// CLI holds shared state for all commands.
type CLI struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Lookup replaces the process environment (tests only).
	Lookup platformconfig.LookupFunc

	configPath string
	transport  string
}

// New creates a CLI bound to the process streams.
func New() *CLI {
	return &CLI{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// RootCommand creates the root cobra command. Without a subcommand it
// serves the MCP tool, which is what MCP clients launch.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Image Sage MCP server: safe image fetching and vision analysis",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
	if commit != "" {
		root.SetVersionTemplate(appName + " {{.Version}}\ncommit: " + commit + "\n")
	}

	root.SetIn(c.Stdin)
	root.SetOut(c.Stdout)
	root.SetErr(c.Stderr)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to YAML config (overrides IMAGE_SAGE_CONFIG)")
	root.Flags().StringVarP(&c.transport, "transport", "t", "", "stdio | sse | http (overrides IMAGE_SAGE_TRANSPORT)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.analyzeCommand())
	root.AddCommand(c.backendsCommand())

	return root
}

// Execute runs the command tree with ctx.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	root := c.RootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (c *CLI) options() bootstrap.Options {
	return bootstrap.Options{
		ConfigPath: c.configPath,
		Transport:  c.transport,
		Lookup:     c.Lookup,
		DotEnv:     c.Lookup == nil,
		LogConsole: c.Stderr,
		Stdin:      c.Stdin,
		Stdout:     c.Stdout,
	}
}
