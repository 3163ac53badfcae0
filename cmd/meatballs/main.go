package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "meatballs",
		Short:        "Ingest Hacker News activity and curate daily collections",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run an ingestor once",
	}
	cmd.AddCommand(ingestStoriesCmd())
	cmd.AddCommand(ingestActivityCmd())
	return cmd
}

func ingestStoriesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Save the newest stories and their authors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestStories(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", -1, "max stories to save (default: from config, 0 = all)")
	return cmd
}

func ingestActivityCmd() *cobra.Command {
	var a activityFlags

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Re-poll recent stories and record their activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestActivity(cmd.Context(), a)
		},
	}

	cmd.Flags().Int64Var(&a.start, "start", 0, "newer window bound, unix seconds (default: now)")
	cmd.Flags().Int64Var(&a.end, "end", 0, "older window bound, unix seconds (default: start minus window)")
	cmd.Flags().IntVar(&a.score, "score", 0, "minimum story score")
	cmd.Flags().IntVar(&a.commentTotal, "comment-total", 0, "minimum comment total")
	cmd.Flags().IntVar(&a.commentWeight, "comment-weight", 0, "comment weight 1..100 (default: from config)")
	cmd.Flags().IntVar(&a.falloff, "falloff", 0, "falloff percentage 1..100 (default: from config)")
	return cmd
}

func generateCmd() *cobra.Command {
	var dateKey string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the collection for a day (default: yesterday)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), dateKey)
		},
	}

	cmd.Flags().StringVar(&dateKey, "date-key", "", "day as YYYY:M:D")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search ingested story titles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(args, jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max hits to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
