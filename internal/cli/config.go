package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"claudeview/internal/settings"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the config file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(s)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configPath
			if path == "" {
				p, err := settings.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if err := settings.Save(path, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
