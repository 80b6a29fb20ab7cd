// Package commands provides the CLI commands for the session-runtime server.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/logging"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	logFile   bool
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:     "opencode-server",
	Short:   "OpenCode session-runtime server",
	Long:    `opencode-server runs the session runtime (SessionManager + ServiceHost) headlessly, exposing it over HTTP.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Environment overlay: .env values never override a variable
		// already set in the process environment.
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load env file %q: %v\n", envFile, err)
			}
		} else {
			_ = godotenv.Load() // best-effort, .env in the working directory
		}

		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/opencode-server-YYYYMMDD-HHMMSS.log")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file to load before startup")

	rootCmd.SetVersionTemplate(fmt.Sprintf("opencode-server %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns dir if non-empty, else the process's working directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
