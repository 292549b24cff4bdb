package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func NewConfigCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(NewConfigShowCommand(root))

	return cmd
}

func NewConfigShowCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Print the configuration after file, defaults and environment overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(root)
		},
	}

	return cmd
}

func runConfigShow(root *RootCommand) error {
	opts := root.OutputOptions()
	if opts.Quiet {
		return nil
	}

	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		return PrintOutput(root.Config(), opts)
	}

	enc := toml.NewEncoder(opts.Writer)
	if err := enc.Encode(root.Config()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
