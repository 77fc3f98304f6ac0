package cmd

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newOneShotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "one-shot <question>",
		Short: "Ask a single question without starting a conversation",
		Example: `  termgpt one-shot "how do I list open ports on linux?"
  termgpt one-shot what is a goroutine`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, strings.Join(args, " "))
		},
	}
}

// runOneShot answers question and exits. Nothing is saved.
func runOneShot(cmd *cobra.Command, question string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ui := a.newPlainIO(false)
	defer ui.Close()

	err = a.newSession(ui, nil).OneShot(ctx, question)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
