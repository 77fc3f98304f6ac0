package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/termgpt/termgpt/internal/secrets"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Save your API key, encrypted, for later runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if secrets.Installed(cfg.BaseDir) {
				fmt.Fprintln(out, "An API key is already installed; it will be replaced.")
			}
			fmt.Fprintf(out, "Enter your %s API key: ", cfg.Provider)
			key, err := readSecret()
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("reading api key: %w", err)
			}

			if err := secrets.Install(cfg.BaseDir, key); err != nil {
				return err
			}
			fmt.Fprintf(out, "API key saved in %s. Run \"termgpt new\" to start chatting.\n", cfg.BaseDir)
			return nil
		},
	}
}

// readSecret reads a line from stdin without echo when it is a terminal.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return strings.TrimSpace(string(b)), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
