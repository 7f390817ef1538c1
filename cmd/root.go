// Package cmd defines the phbgateway command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michelhabib/privatehomebox/internal/audit"
	"github.com/michelhabib/privatehomebox/internal/gateway"
	"github.com/michelhabib/privatehomebox/internal/logging"
	"github.com/michelhabib/privatehomebox/internal/state"
)

var (
	Version = "dev"
	Commit  = "none"
)

const defaultStateDir = "~/.phbgateway"

var rootFlags struct {
	host     string
	port     int
	stateDir string
	logDir   string
}

var rootCmd = &cobra.Command{
	Use:   "phbgateway",
	Short: "PrivateHomeBox relay gateway",
	Long: `phbgateway is the trust-anchored WebSocket relay for a PrivateHomeBox
household. It authenticates the desktop and its attested devices, then
routes JSON envelopes between them without inspecting payloads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runServe,
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

// Execute runs the command tree. Exit codes: 0 clean shutdown, 1 bind
// failure or corrupt state directory, 2 invalid arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.stateDir, "state-dir", defaultStateDir, "Directory for gateway identity and desktop binding")
	rootCmd.Flags().StringVar(&rootFlags.host, "host", "127.0.0.1", "Bind address")
	rootCmd.Flags().IntVar(&rootFlags.port, "port", 8765, "TCP port")
	rootCmd.Flags().StringVar(&rootFlags.logDir, "log-dir", "", "Directory for the rotating log file")

	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if rootFlags.port < 1 || rootFlags.port > 65535 {
		return fmt.Errorf("invalid port %d", rootFlags.port)
	}

	logger, err := logging.Setup(rootFlags.logDir)
	if err != nil {
		return &exitError{1, fmt.Errorf("set up logging: %w", err)}
	}

	st, err := state.LoadOrInit(expandTilde(rootFlags.stateDir))
	if err != nil {
		logger.Error("state directory unusable", "error", err)
		return &exitError{1, err}
	}

	auditLog, err := audit.Open(filepath.Join(st.Dir(), "audit.db"))
	if err != nil {
		logger.Error("audit log unusable", "error", err)
		return &exitError{1, err}
	}
	defer auditLog.Close()

	cfg := gateway.DefaultConfig()
	cfg.Host = rootFlags.host
	cfg.Port = rootFlags.port

	srv := gateway.NewServer(cfg, st, auditLog, logger)

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		logger.Error("bind failed", "addr", srv.Addr(), "error", err)
		return &exitError{1, err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("server error", "error", err)
		return &exitError{1, err}
	}
	logger.Info("gateway stopped")
	return nil
}

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
