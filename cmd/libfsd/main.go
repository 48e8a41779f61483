// Command libfsd runs a libfs file-system server and offers tools to
// configure it and issue lookups by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "libfsd",
		Short: "Path-resolution server for VFS file systems",
		Long: `libfsd resolves paths on behalf of a VFS dispatcher. The dispatcher
writes canonical paths into the path lookup buffer and asks for lookups by
range; libfsd walks the mounted back-end and replies with the node found,
created, linked or unlinked.

Example:
  libfsd init
  libfsd serve --config ~/.config/libfs/config.yaml
  libfsd lookup --remote localhost:7070 --create --directory /docs`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/libfs/config.yaml)")

	rootCmd.AddCommand(newServeCmd(), newLookupCmd(), newInitCmd(), newSchemaCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
