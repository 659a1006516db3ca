// Command notificaties-core runs the notification routing and delivery
// core described in spec.md: the publisher-facing ingest surface, the
// scheduler/delivery worker pipeline, schema migrations, and the
// admin-facing helpers that sit outside the hard core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "notificaties-core",
	Short:   "Notification routing and delivery core",
	Version: Version,
}

func init() {
	config.LoadDotEnv()
	config.BindFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(probeCmd)
}
