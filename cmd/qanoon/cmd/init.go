package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/configs"
	"github.com/Aman-CERP/qanoon/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Init writes a commented .qanoon.yaml into the project directory.
With --user it writes the defaults to the user configuration file instead.`,
		Example: `  # Project config in the current directory
  qanoon init

  # Overwrite an existing project config
  qanoon init --force

  # Machine-wide defaults
  qanoon init --user`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := writerFor(cmd)
			path := filepath.Join(projectDir, ".qanoon.yaml")
			if user {
				path = config.GetUserConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			if user {
				if err := config.NewConfig().WriteYAML(path); err != nil {
					return err
				}
			} else if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}
