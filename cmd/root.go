package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "presenced",
	Short: "Asynchronous face verification and enrollment service",
	Long: `Presenced runs camera frames through face detection, quality and
liveness gates, and embedding-based identity matching to record attendance.
Tasks arrive on a durable Redis queue and every task yields exactly one
retrievable result.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// newLogger builds the process logger. Debug mode switches to the console
// encoder with debug level enabled.
func newLogger() (*zap.Logger, error) {
	if debugLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
