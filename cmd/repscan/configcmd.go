package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repscan/internal/config"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}

	initCmd := &cobra.Command{
		Use:         "init [PATH]",
		Short:       "Write a default configuration file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.cfgPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and exit",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return usageError{err}
			}
			issues := config.Validate(cfg)
			for _, iss := range issues {
				fmt.Fprintln(a.stderr, iss.String())
			}
			if config.HasErrors(issues) {
				return usagef("configuration is invalid: %s", a.cfgPath)
			}
			fmt.Fprintf(a.stdout, "configuration is valid: %s\n", a.cfgPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
