// Package main is the entry point for the gatewayd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/gatewayd/internal/config"
	"github.com/flemzord/gatewayd/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "An OpenAI-compatible gateway over local inference backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), serveCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gatewayd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with all configured providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgDir, _ := cmd.Flags().GetString("config")
			return app.Run(app.RunParams{
				ConfigDir: cfgDir,
				Version:   version,
				Commit:    commit,
				Date:      date,
			})
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the configuration directory")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <dir>",
		Short: "Validate a configuration tree without starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.LoadDir(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			fmt.Printf("Configuration OK (%d providers, %d routes, %d model overrides)\n",
				len(cfg.Providers), len(cfg.Routes), len(cfg.Models))
			return nil
		},
	})
	return cmd
}
