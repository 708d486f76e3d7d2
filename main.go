package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/makotom/truedlspeed/truedlspeed"
)

var (
	BuildName       = "dev"
	BuildAnnotation = "git"
)

type app struct {
	configPath string

	cfg     *truedlspeed.Config
	logger  zerolog.Logger
	printer *log.Logger
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v := truedlspeed.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := truedlspeed.ReadConfigFile(v, a.configPath); err != nil {
		return err
	}
	v.SetDefault("user-agent", fmt.Sprintf("truedlspeed/%s", BuildName))

	cfg, err := truedlspeed.LoadConfig(v)
	if err != nil {
		return err
	}
	logger, err := truedlspeed.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.printer = log.New(os.Stdout, "", 0)
	return nil
}

func (a *app) printBanner() {
	a.printer.Printf("truedlspeed %s (%s)\n", BuildName, BuildAnnotation)
	a.printer.Println()
	a.printer.Printf("At: %s\n", time.Now().Format(time.RFC1123Z))
	a.printer.Println()
}

type runFunc func(ctx context.Context, printer *log.Logger, cfg *truedlspeed.Config, logger *zerolog.Logger) error

func (a *app) measure(run runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.printBanner()
		return run(ctx, a.printer, a.cfg, &a.logger)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "truedlspeed",
		Short:             "Measure download throughput and latency live",
		Long:              "truedlspeed streams a large payload and reports throughput once per second,\nwhile pinging a host and reporting every round trip as it arrives.",
		Version:           fmt.Sprintf("%s (%s)", BuildName, BuildAnnotation),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE:              a.measure(truedlspeed.RunAll),
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ./truedlspeed.yaml or ~/.config/truedlspeed/truedlspeed.yaml)")
	truedlspeed.AddFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "download",
			Short: "Measure download throughput",
			Example: `  # Sample for 15 seconds in megabytes per second
  truedlspeed download --unit MB/s --duration 15s`,
			RunE: a.measure(truedlspeed.RunDownload),
		},
		&cobra.Command{
			Use:   "ping",
			Short: "Measure round-trip latency",
			Example: `  # Ping a host until interrupted, then show the log
  truedlspeed ping --target 1.1.1.1 --show-log`,
			RunE: a.measure(truedlspeed.RunPing),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Measure throughput and latency side by side",
			RunE:  a.measure(truedlspeed.RunAll),
		},
		&cobra.Command{
			Use:   "scale",
			Short: "Show where the gauge breakpoints land",
			RunE: func(cmd *cobra.Command, args []string) error {
				return truedlspeed.PrintScale(a.printer, a.cfg)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
