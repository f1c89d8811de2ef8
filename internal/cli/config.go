// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	conf "github.com/bodaay/hfxet/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the hfxet config.toml",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config.toml",
		Long: `Creates a default configuration file at ~/.config/hfxet/config.toml.

The configuration file sets default values for flags shared across
commands. CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := conf.Path()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			if err := conf.Save(path, conf.Default()); err != nil {
				return err
			}
			fmt.Printf("created config file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := conf.Path()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Println("no config file found.")
				fmt.Printf("run 'hfxet config init' to create one at:\n  %s\n", path)
				return nil
			}
			file, err := conf.Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("config file: %s\n\n", path)
			enc := toml.NewEncoder(os.Stdout)
			return enc.Encode(file)
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := conf.Path()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
