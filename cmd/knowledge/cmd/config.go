package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmswen/knowledge/configs"
	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigUpgradeCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the fully merged configuration: defaults, then the user config,
then the engine config, then environment overrides.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			root, err := config.FindEngineRoot(".")
			if err != nil {
				return err
			}
			cfg, err := config.Load(root)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# engine root: %s\n", root)
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long:  `Write a commented template to ~/.config/knowledge/config.yaml.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			out := output.New(os.Stdout)
			path := config.GetUserConfigPath()

			if config.UserConfigExists() && !force {
				out.Statusf("", "User config already exists: %s (use --force to overwrite)", path)
				return nil
			}

			if config.UserConfigExists() {
				backup, err := config.BackupUserConfig()
				if err != nil {
					return fmt.Errorf("backup existing config: %w", err)
				}
				out.Statusf("", "Backed up existing config to %s", backup)
			}

			if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
				return err
			}
			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing user config (a backup is kept)")

	return cmd
}

func newConfigUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Add newly introduced settings to the user config",
		Long: `Load the user configuration, fill in any settings introduced since it
was written with their defaults, back up the old file, and save.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			out := output.New(os.Stdout)

			cfg, err := config.LoadUserConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				out.Statusf("", "No user config found; run 'knowledge config init' first")
				return nil
			}

			added := cfg.MergeNewDefaults()
			if len(added) == 0 {
				out.Success("User config is up to date")
				return nil
			}

			if _, err := config.BackupUserConfig(); err != nil {
				return fmt.Errorf("backup config: %w", err)
			}
			if err := cfg.WriteYAML(config.GetUserConfigPath()); err != nil {
				return err
			}

			out.Successf("Added %d settings:", len(added))
			for _, f := range added {
				out.Statusf("", "  %s", f)
			}
			return nil
		},
	}
}
