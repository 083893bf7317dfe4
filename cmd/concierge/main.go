// Package main provides the entry point for the concierge auto-reply daemon.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/concierge/internal/config"
	"github.com/Veraticus/concierge/internal/settings"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(viper.New())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "concierge",
		Short:        "Auto-reply assistant for a Signal account",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfigFile(v)
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	config.SetDefaults(v)

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newCheckCmd(v))
	return cmd
}

func readConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to signal-cli and answer incoming messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := notifyContext(cmd.Context())
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("account", "", "Signal account number the bot answers for.")
	cmd.Flags().String("socket", "", "Path to the signal-cli JSON-RPC socket.")
	cmd.Flags().String("settings", "", "Path to the behavior settings file.")
	cmd.Flags().String("listen", "", "Address for the operator HTTP API.")
	_ = v.BindPFlag("signal.account", cmd.Flags().Lookup("account"))
	_ = v.BindPFlag("signal.socket", cmd.Flags().Lookup("socket"))
	_ = v.BindPFlag("settings.path", cmd.Flags().Lookup("settings"))
	_ = v.BindPFlag("api.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

// newCheckCmd validates the process configuration and the settings file
// without connecting to anything.
func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and behavior settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(cfg.Settings.Path)
			if err != nil {
				return fmt.Errorf("read settings: %w", err)
			}
			s, err := settings.Parse(data)
			if err != nil {
				return fmt.Errorf("parse settings %s: %w", cfg.Settings.Path, err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "account:      %s\n", cfg.Signal.Account)
			_, _ = fmt.Fprintf(out, "store:        %s (window %d)\n", cfg.Store.Driver, cfg.Store.Window)
			_, _ = fmt.Fprintf(out, "generation:   %s\n", cfg.Generation.Provider)
			_, _ = fmt.Fprintf(out, "persona:      %s\n", s.PersonaName)
			_, _ = fmt.Fprintf(out, "auto reply:   %t\n", s.AutoReplyEnabled)
			_, _ = fmt.Fprintf(out, "overrides:    %d\n", len(s.SpecialContacts))
			return nil
		},
	}
}
