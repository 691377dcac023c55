package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/spucal/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or create the config file",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config, including flags",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				conf, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				raw, err := config.NewRawFileConfigFromConfig(conf)
				if err != nil {
					return err
				}

				b, err := json.MarshalIndent(raw, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			},
		},
		newConfigInitCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective config to the config file",
		Long: `Write the effective config to the config file.

Global flags given on the command line are written too, e.g.
'spucal config init --port /dev/ttyACM0 --baud 250000'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", configPath)
			}

			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := config.NewRawFileConfigFromConfig(conf)
			if err != nil {
				return err
			}
			if err := config.NewFileFromConfig(raw, configPath).Save(); err != nil {
				return err
			}

			logrus.Infof("wrote config to %s", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
