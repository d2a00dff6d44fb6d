package cli

import (
	"context"

	"github.com/spf13/cobra"

	"image-sage-server-go/internal/bootstrap"
)

func (c *CLI) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the image_sage tool over stdio, SSE or plain HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&c.transport, "transport", "t", "", "stdio | sse | http (overrides IMAGE_SAGE_TRANSPORT)")
	return cmd
}

func (c *CLI) serve(ctx context.Context) error {
	return bootstrap.Run(ctx, c.options())
}
