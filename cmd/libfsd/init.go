package main

import (
	"fmt"
	"os"

	"github.com/marmos91/libfs/pkg/config"
	"github.com/marmos91/libfs/pkg/seed"
	"github.com/spf13/cobra"
)

// exampleSeed is written by init --seed.
var exampleSeed = []seed.Entry{
	{Path: "/docs", Type: seed.TypeDirectory},
	{Path: "/docs/readme"},
	{Path: "/readme", Link: "/docs/readme"},
}

func newInitCmd() *cobra.Command {
	var force bool
	var seedPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)

			if seedPath == "" {
				return nil
			}
			if err := writeExampleSeed(seedPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Example seed written to %s (reference it from devices[].seed)\n", seedPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Also write an example seed tree to this path")
	return cmd
}

func writeExampleSeed(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create seed file: %w", err)
	}
	if err := seed.Dump(f, exampleSeed); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [OUTPUT]",
		Short: "Write the JSON schema of the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}

			outputFile := "config.schema.json"
			if len(args) > 0 {
				outputFile = args[0]
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("error writing schema file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", outputFile)
			return nil
		},
	}
}
