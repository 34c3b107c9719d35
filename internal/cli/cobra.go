package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"senhts/internal/config"
	"senhts/internal/export"
	"senhts/internal/pipeline"
	"senhts/internal/storage"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "senhts",
		Short: "senhts builds harmonized radar and optical time series stacks",
		Long: `senhts composites radar and optical observations onto a regular temporal grid,
aligns the two streams, gap-fills missing pixels from neighbouring intervals and
exports the result as one band-stacked image.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newBuildCmd(root))
	rootCmd.AddCommand(newIngestCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newSampleCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newChartCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newStacksCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newBuildCmd(root *Root) *cobra.Command {
	var (
		start         string
		end           string
		intervalDays  int
		toleranceDays int
		windowDays    int
		aggregation   string
		dayOffsetBase string
		radarBands    []string
		opticalBands  []string
		assetID       string
		quicklook     string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and export a harmonized time series stack",
		Long: `Build composites every interval of the series for both sensors, aligns them,
gap-fills invalid pixels and exports the stack under the configured asset id.
Unset flags fall back to the series section of the configuration.

Examples:
  senhts build --start 2022-01-01 --end 2023-01-01
  senhts build --interval-days 16 --aggregation median --quicklook ndvi.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"source": "cli"}
			flags := cmd.Flags()
			if flags.Changed("start") {
				opts["start"] = start
			}
			if flags.Changed("end") {
				opts["end"] = end
			}
			if flags.Changed("interval-days") {
				opts["interval_days"] = intervalDays
			}
			if flags.Changed("tolerance-days") {
				opts["tolerance_days"] = toleranceDays
			}
			if flags.Changed("window-days") {
				opts["window_days"] = windowDays
			}
			if aggregation != "" {
				opts["aggregation"] = aggregation
			}
			if dayOffsetBase != "" {
				opts["day_offset_base"] = dayOffsetBase
			}
			if len(radarBands) > 0 {
				opts["radar_bands"] = radarBands
			}
			if len(opticalBands) > 0 {
				opts["optical_bands"] = opticalBands
			}
			if assetID != "" {
				opts["asset_id"] = assetID
			}
			if dryRun {
				opts["dry_run"] = true
			}
			return root.runBuild(cmd.Context(), opts, quicklook)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "series start date YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "series end date YYYY-MM-DD (exclusive)")
	cmd.Flags().IntVar(&intervalDays, "interval-days", 0, "interval length in days")
	cmd.Flags().IntVar(&toleranceDays, "tolerance-days", 0, "widen each interval by this many days when compositing")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "gap-fill window half-width in days (0 = interval days + 1)")
	cmd.Flags().StringVar(&aggregation, "aggregation", "", "composite reducer (geomedian|median|mean)")
	cmd.Flags().StringVar(&dayOffsetBase, "day-offset-base", "", "doy band reference (range_start|year_start)")
	cmd.Flags().StringSliceVar(&radarBands, "radar-bands", nil, "radar bands to composite")
	cmd.Flags().StringSliceVar(&opticalBands, "optical-bands", nil, "optical bands to composite")
	cmd.Flags().StringVar(&assetID, "asset-id", "", "asset id to export under")
	cmd.Flags().StringVar(&quicklook, "quicklook", "", "write a quicklook PNG of the stack to this path")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the stack without exporting it")

	return cmd
}

func newIngestCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Ingest observation bundles into the catalog",
		Long: `Decode observation bundles (*.json) and add them to the catalog. Directories are
walked recursively; hidden entries and partial files are skipped. Bundles already
in the catalog are counted as duplicates.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runIngest(cmd.Context(), args)
		},
	}
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Ingest bundles as they arrive in the inbox",
		Long:  "Watch inbox directories and queue an ingest job for every bundle once it stops changing. Defaults to paths.inbox_dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = []string{root.cfg.Paths.InboxDir}
			}
			return root.watchInbox(cmd.Context(), dirs)
		},
	}
}

func newSampleCmd(root *Root) *cobra.Command {
	var (
		stackID string
		output  string
		bands   []string
	)

	cmd := &cobra.Command{
		Use:   "sample <points.csv>",
		Short: "Sample an exported stack at point locations",
		Long: `Read points (header id,x,y[,property] in grid CRS coordinates) and write one CSV
row per point inside the grid with lon/lat and the selected stack bands.

Examples:
  senhts sample points.csv --stack build-20220101T000000-1a2b3c4d --bands NDVI,VV`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = filepath.Join(root.cfg.Paths.DefaultOutput, stackID+"_samples.csv")
			}
			return root.runSample(cmd.Context(), args[0], stackID, output, bands)
		},
	}

	cmd.Flags().StringVar(&stackID, "stack", "", "stack id to sample")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV path")
	cmd.Flags().StringSliceVar(&bands, "bands", nil, "band names or base names to sample (default all)")
	cmd.MarkFlagRequired("stack")

	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		bands  []string
		lo     float64
		hi     float64
		gamma  float64
		output string
	)

	cmd := &cobra.Command{
		Use:   "preview <stack-id>",
		Short: "Render a false colour quicklook PNG of three stack bands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(bands) != 3 {
				return fmt.Errorf("preview needs exactly three bands, got %d", len(bands))
			}
			vis := export.Visualization{Min: lo, Max: hi, Gamma: gamma}
			copy(vis.Bands[:], bands)
			if output == "" {
				output = filepath.Join(root.cfg.Paths.DefaultOutput, args[0]+".png")
			}
			return root.runPreview(cmd.Context(), args[0], output, vis)
		},
	}

	def := export.DefaultVisualization
	cmd.Flags().StringSliceVar(&bands, "bands", def.Bands[:], "red,green,blue stack bands")
	cmd.Flags().Float64Var(&lo, "min", def.Min, "value mapped to black")
	cmd.Flags().Float64Var(&hi, "max", def.Max, "value mapped to full intensity")
	cmd.Flags().Float64Var(&gamma, "gamma", def.Gamma, "gamma correction")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output PNG path")

	return cmd
}

func newChartCmd(root *Root) *cobra.Command {
	var (
		band   string
		col    int
		row    int
		output string
	)

	cmd := &cobra.Command{
		Use:   "chart <stack-id>",
		Short: "Chart one band of one pixel across the series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = filepath.Join(root.cfg.Paths.DefaultOutput, fmt.Sprintf("%s_%s_%d_%d.html", args[0], band, col, row))
			}
			return root.runChart(cmd.Context(), args[0], band, col, row, output)
		},
	}

	cmd.Flags().StringVar(&band, "band", "NDVI", "base band name")
	cmd.Flags().IntVar(&col, "col", 0, "pixel column")
	cmd.Flags().IntVar(&row, "row", 0, "pixel row")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output HTML path")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and gRPC service",
		Long: `Start an HTTP server for job submission, job and stack browsing and live job
results, alongside the gRPC Harmonizer service.

Examples:
  senhts serve --addr :8080 --grpc-addr :9090
  senhts serve --grpc-addr ""   # HTTP only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg.Server
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.GRPCAddr = grpcAddr
			}

			root.log.Info("server ready",
				"addr", cfg.HTTPAddr,
				"grpc_addr", cfg.GRPCAddr,
				"endpoints", []string{"/healthz", "/jobs", "/stream", "/ws", "/stacks"},
			)
			return root.serveFn(cmd.Context(), cfg, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.HTTPAddr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC address, empty to disable")

	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.listJobs(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	return cmd
}

func newStacksCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stacks",
		Short: "List exported stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.listStacks(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of stacks to show")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Show or validate the senhts configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(root.out, "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.version()
		},
	}
}

func joinOr(values []string, empty string) string {
	if len(values) == 0 {
		return empty
	}
	return strings.Join(values, ",")
}
