package cmd

import (
	"github.com/spf13/cobra"

	configcmd "github.com/tphakala/farmdash/cmd/config"
	"github.com/tphakala/farmdash/cmd/notifications"
	"github.com/tphakala/farmdash/cmd/refresh"
	"github.com/tphakala/farmdash/cmd/serve"
	"github.com/tphakala/farmdash/cmd/session"
	"github.com/tphakala/farmdash/cmd/stats"
	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/buildinfo"
)

// RootCommand creates and returns the root command
func RootCommand(opts *app.Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "farmdash",
		Short:         "Farm dashboard client",
		Long:          "Keeps a local cache of farm data from the crop health services and serves it to dashboards.",
		Version:       buildinfo.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, opts)

	rootCmd.AddCommand(
		session.LoginCommand(opts),
		session.RegisterCommand(opts),
		session.LogoutCommand(opts),
		refresh.Command(opts),
		stats.Command(opts),
		notifications.Command(opts),
		serve.Command(opts),
		configcmd.Command(opts),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, opts *app.Options) {
	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: search standard locations)")
}
