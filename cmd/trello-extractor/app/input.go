package app

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/stacklok/trello-extractor/internal/config"
)

const (
	formatJSON  = "json"
	formatTable = "table"

	// connectionKeyEnv holds the connection key for commands run outside the platform
	connectionKeyEnv = "CONNECTION_KEY"
)

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 -- file descriptors fit in int
}

// loadOptionalConfig loads the file named by the config flag, or returns the
// defaults when the flag is empty.
func loadOptionalConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// readConnectionKey returns the Trello connection key from the
// TRELLO_EXTRACTOR_CONNECTION_KEY environment variable, from the terminal
// without echo, or from the command's standard input.
func readConnectionKey(cmd *cobra.Command) (string, error) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	if key := strings.TrimSpace(v.GetString(connectionKeyEnv)); key != "" {
		return key, nil
	}

	var reader io.Reader
	if in, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(in) {
		fmt.Fprint(cmd.ErrOrStderr(), "Connection key: ")
		keyBytes, err := term.ReadPassword(int(in.Fd())) // #nosec G115 -- file descriptors fit in int
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read connection key: %w", err)
		}
		reader = bytes.NewReader(keyBytes)
	} else {
		reader = cmd.InOrStdin()
	}

	keyBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read connection key: %w", err)
	}
	key := strings.TrimSpace(string(keyBytes))
	if key == "" {
		return "", fmt.Errorf("connection key cannot be empty")
	}
	return key, nil
}

// outputFormat resolves the format flag, defaulting to a table on terminals
// and JSON otherwise.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("failed to get format flag: %w", err)
	}
	switch format {
	case formatJSON, formatTable:
		return format, nil
	case "":
		if out, ok := cmd.OutOrStdout().(*os.File); ok && isTerminal(out) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}
