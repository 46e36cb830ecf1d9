package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/driver"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/metrics"
	"github.com/jbweber/vboxdriver/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath   string
	logLevel     string
	outputFormat string
	noHeaders    bool

	metricsServer *http.Server
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vboxdriver",
	Short: "vboxdriver - VirtualBox instance management tool",
	Long: `vboxdriver manages VirtualBox virtual machines through VBoxManage.

It creates, powers, resizes, snapshots and destroys instances described by
YAML documents, and attaches iSCSI volumes and remote display consoles to
them.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return output.ValidateFormat(outputFormat)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopMetrics()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "driver configuration file (defaults apply when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(initHostCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(consoleCmd)
}

// newDriver loads the driver configuration, sets up logging and metrics and
// builds the driver.
func newDriver() (*driver.Driver, error) {
	cfg, err := config.LoadDriverConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    true,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	opts := []driver.Option{driver.WithProgress(os.Stderr)}
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector()
		startMetrics(cfg.MetricsAddr, collector)
		opts = append(opts, driver.WithMetrics(collector))
	}

	d, err := driver.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func startMetrics(addr string, c *metrics.Collector) {
	metricsServer = metrics.NewServer(addr, "", c)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Warnf("Warning: metrics server on %s stopped: %v", addr, err)
		}
	}()
	logger.Get().Debugf("Serving metrics on %s", addr)
}

func stopMetrics() error {
	if metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}

func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

// success prints a green check mark followed by the message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

var initHostCmd = &cobra.Command{
	Use:   "init-host",
	Short: "Prepare this host for running instances",
	Long: `Check that the installed VirtualBox is supported, unregister disks whose
files are gone and select the remote display extension pack.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.InitHost(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize host: %w", err)
		}
		success("Host initialized")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the vboxdriver and VirtualBox versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("vboxdriver %s\n", rootCmd.Version)

		d, err := newDriver()
		if err != nil {
			return err
		}
		v, err := d.Version(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get VirtualBox version: %w", err)
		}
		fmt.Printf("VirtualBox %s\n", v)
		return nil
	},
}
