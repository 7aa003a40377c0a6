package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	serveCmd.Flags().StringP("config", "c", "", "Path to the configuration file")
	serveCmd.Flags().String("listen", "", "Listen address, overrides the configuration")
	serveCmd.Flags().String("upstream", "", "Upstream fetcher base URL, overrides the configuration")

	indexCmd.Flags().IntP("threads", "t", 1, "Number of WARC files to index concurrently")
	indexCmd.Flags().String("redis", "", "Redis URL to insert rows into instead of printing them")
	indexCmd.Flags().String("user", "", "Index scope user")
	indexCmd.Flags().String("coll", "", "Index scope collection")
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "recorder",
	Short: "WARC recording proxy and CDX indexing utility",
	Long:  `WARC recording proxy and CDX indexing utility`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(cmd.Flags().Lookup("log-level").Value.String())
		if err != nil {
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording proxy",
	Long:  `Run the recording proxy`,
	Run:   serve,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Produce CDXJ rows for existing WARC file(s)",
	Long:  `Produce CDXJ rows for existing WARC file(s)`,
	Args:  cobra.MinimumNArgs(1),
	Run:   index,
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
