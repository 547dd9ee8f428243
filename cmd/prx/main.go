package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"prx/config"
	"prx/fabric"
	"prx/logging"
	"prx/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prx",
		Short:         "prx is a reverse HTTP proxy with routing, load balancing, and circuit breaking",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(runCmd(), validateCmd())
	return root
}

func runCmd() *cobra.Command {
	var configPath string
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run prx in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.EnvPath()
			}

			sup, err := fabric.NewSupervisor(configPath)
			if err != nil {
				return fmt.Errorf("starting prx: %w", err)
			}

			if cfg := sup.Current().Config(); cfg.Observability.LogLevel != "" {
				if err := logging.SetLevel(cfg.Observability.LogLevel); err != nil {
					logging.L().Warn("failed to apply observability.log_level, keeping current logger", zap.Error(err))
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx, server.Options{
				ConfigPath: configPath,
				Supervisor: sup,
				AdminAddr:  adminAddr,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the Prx.toml config file (default: $PRX_CONFIG or ./Prx.toml)")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin listener address (default: $PRX_ADMIN_LISTEN or "+server.DefaultAdminListen+")")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without running prx",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.EnvPath()
			}

			_, errs := config.LoadAndValidate(configPath)
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, e)
				}
				return fmt.Errorf("%d validation error(s) in %s", len(errs), configPath)
			}

			fmt.Printf("%s is valid\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the Prx.toml config file (default: $PRX_CONFIG or ./Prx.toml)")
	return cmd
}
