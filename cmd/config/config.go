// Package config provides the command that prints or writes the configuration.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdnet-relay/internal/conf"
)

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	var writePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Long:  "Print the effective configuration as YAML with passwords and DSNs masked, or write the annotated default configuration with --write.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if writePath != "" {
				if err := conf.WriteDefaultConfig(writePath); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", writePath)
				return err
			}

			data, err := yaml.Marshal(settings.Redacted())
			if err != nil {
				return fmt.Errorf("error encoding settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&writePath, "write", "", "Write the annotated default config.yaml to this path instead of printing")
	return cmd
}
