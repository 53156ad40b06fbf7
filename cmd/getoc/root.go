package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OceanOptics/getOC/internal/config"
)

func newRootCommand() *cobra.Command {
	a := newApp()

	root := &cobra.Command{
		Use:   "getoc",
		Short: "Find and download ocean color satellite images matching points of interest",
		Long: `getoc matches a CSV list of points of interest (id, date time, lat, lon)
against the Ocean-Color Browser, the CMR catalogue, Copernicus Data Space or
CREODIAS, and downloads the images found.

The data platform is chosen from the instrument, the level and the age of the
most recent point, or forced with --platform.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default ./getoc.yaml or $HOME/.getoc/getoc.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages and download progress")
	pf.String("log-format", "console", "log output format: console or json")

	root.AddCommand(
		newRunCommand(a),
		newResolveCommand(a),
		newDownloadCommand(a),
		newServeCommand(a),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "getoc %s (built %s)\n", Version, BuildTime)
		},
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "replace an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
