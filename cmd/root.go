package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/birdnet-relay/cmd/config"
	"github.com/tphakala/birdnet-relay/cmd/serve"
	"github.com/tphakala/birdnet-relay/cmd/stats"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string
	var centralLogger *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "birdnet-relay",
		Short:         "BirdNET relay: live bird counts from an edge detector to dashboard subscribers",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		stats.Command(settings),
		stats.DatesCommand(settings),
		configcmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}

		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		centralLogger, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(centralLogger)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if centralLogger == nil {
			return nil
		}
		return centralLogger.Close()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml, overrides the default search paths")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
