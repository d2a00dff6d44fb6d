package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"image-sage-server-go/internal/bootstrap"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/utils"
)

// analyzeCommand runs one analysis and prints the tool payload.
func (c *CLI) analyzeCommand() *cobra.Command {
	var (
		includeOCR bool
		detail     string
	)

	cmd := &cobra.Command{
		Use:   "analyze <url-or-path>",
		Short: "Analyze a single image and print the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := bootstrap.Prepare(ctx, c.options())
			if err != nil {
				return err
			}
			defer app.Close()

			opts := vision.DefaultOptions()
			opts.IncludeOCR = includeOCR
			level, ok := vision.ParseDetailLevel(detail)
			if !ok {
				fmt.Fprintf(c.Stderr, "unknown detail level %q, using %s\n", detail, level)
			}
			opts.DetailLevel = level

			resp := app.Analyzer.Analyze(utils.WithRequestID(ctx, utils.NewRequestID()), args[0], opts)
			data, err := resp.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Stdout, string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeOCR, "ocr", true, "extract visible text")
	cmd.Flags().StringVar(&detail, "detail", string(vision.DetailMedium), "low | medium | high")
	return cmd
}

// backendsCommand lists the active fallback order and why others were skipped.
func (c *CLI) backendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show the active vision backend order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.Prepare(cmd.Context(), c.options())
			if err != nil {
				return err
			}
			defer app.Close()

			for i, name := range app.Analyzer.Backends() {
				fmt.Fprintf(c.Stdout, "%d. %s\n", i+1, name)
			}

			skipped := app.Providers.Skipped()
			names := make([]string, 0, len(skipped))
			for name := range skipped {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(c.Stdout, "skipped %s: %s\n", name, skipped[name])
			}

			cache := app.Config.Cache
			fmt.Fprintf(c.Stdout, "cache: enabled=%t ttl=%ds\n", cache.Enabled, cache.TTLSeconds)
			return nil
		},
	}
}
