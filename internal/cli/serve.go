package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/maco144/pickle/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&servePaused, "paused", false, "Start with the engine stopped")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost   string
	servePort   int
	servePaused bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	Long:  `Run the engine in real time and serve the HTTP API at localhost:7340.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	d, err := daemon.NewWithConfig(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()
	d.StartPaused = servePaused

	return d.Serve(context.Background())
}
