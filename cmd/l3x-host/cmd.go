package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/woxQAQ/l3x-host/internal/config"
	"github.com/woxQAQ/l3x-host/internal/guest"
	"github.com/woxQAQ/l3x-host/internal/host"
	"github.com/woxQAQ/l3x-host/internal/wasm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type baseConfiguration struct {
	ConfigPath string
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	base := &baseConfiguration{}
	cmd := &cobra.Command{
		Use:          "l3x-host",
		Short:        "Runs l3x Wasm guests with logging, tone output and file exchange",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&base.ConfigPath, "config", "", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&base.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("guests", "./guests", "directory searched for guests given by name")

	cmd.AddCommand(newRunCmd(base), newListCmd(base), newVersionCmd())
	return cmd
}

// load reads the configuration with the command's flags bound on top.
func (b *baseConfiguration) load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(b.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newRunCmd(base *baseConfiguration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <guest-dir|guest.wasm|name>",
		Short: "Runs a guest until it is interrupted or its frame fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuest(cmd, base, args[0])
		},
	}

	cmd.Flags().Int("fps", 60, "guest frames per second")
	cmd.Flags().Int("frames", 0, "stop after this many frames (0 runs until interrupted)")
	cmd.Flags().String("picker", config.PickerInbox, "file picker: inbox, prompt or none")
	cmd.Flags().String("inbox", "./inbox", "directory watched by the inbox picker")
	cmd.Flags().String("downloads", "./downloads", "directory exported files are written to")
	cmd.Flags().String("http", "", "address serving exported files, e.g. 127.0.0.1:8089")
	cmd.Flags().String("record", "", "WAV file the tone output is recorded to")
	return cmd
}

func runGuest(cmd *cobra.Command, base *baseConfiguration, target string) error {
	cfg, logger, err := base.load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting l3x-host",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("guest", target),
	)

	ctx := cmd.Context()
	h, err := host.New(ctx, cfg, logger, host.WithStdio(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		logger.Error("Failed to create host", zap.Error(err))
		return err
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			logger.Error("Failed to shut down host", zap.Error(err))
		}
	}()

	if err := h.Run(ctx, target); err != nil {
		logger.Error("Guest run failed", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}

func newListCmd(base *baseConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the guests installed in the guests directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := base.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
				MemoryPages: cfg.Wasm.MemoryPages,
				CacheDir:    cfg.Wasm.CacheDir,
				EnableWASI:  cfg.Wasm.WASI,
			})
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			guests, err := guest.NewManager(cfg.GuestsDir, runtime, logger).List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tCAPABILITIES\tFRAME\tDIR")
			for _, g := range guests {
				caps := make([]string, len(g.Capabilities()))
				for i, c := range g.Capabilities() {
					caps[i] = string(c)
				}
				frame := g.Manifest.Wasm.Frame
				if !g.HasFrame() {
					frame = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					g.Name(), g.Version(), strings.Join(caps, ","), frame, g.Manifest.Dir())
			}
			return w.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "l3x-host %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
