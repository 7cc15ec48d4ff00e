package cli

import (
	"fmt"
	"os"

	"github.com/lehigh-university-libraries/linecrop/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config command group
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect config files",
		Long: `A config file stores detection parameters, the two line numbers to crop
between and the output naming rule. JSON files use the same keys as the
desktop clipper's image_clipper_config.json, so those files load unchanged.`,
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var flags settingsFlags
	var force bool

	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a config file from defaults and the given flags",
		Example: `  # Save the selection found with "linecrop detect"
  linecrop config init --lines 2,4 --hough-threshold 80

  # YAML instead of JSON
  linecrop config init linecrop.yaml --lines 1,3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			switch {
			case len(args) == 1:
				path = args[0]
			case flags.configPath != "":
				path = flags.configPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			// Start from defaults, not from an existing file.
			cfg, err := flags.loadOver(cmd, config.Default())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s (selection: %s)\n", path, cfg.Selection())
			return nil
		},
	}

	flags.register(cmd, true)
	flags.registerNaming(cmd)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var flags settingsFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(&cfg); err != nil {
				return err
			}
			return encoder.Close()
		},
	}

	flags.register(cmd, true)
	flags.registerNaming(cmd)
	return cmd
}
