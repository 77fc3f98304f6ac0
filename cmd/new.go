package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/termgpt/termgpt/internal/chat"
)

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd)
		},
	}
}

func runNew(cmd *cobra.Command) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.runChat("", func(ctx context.Context, s *chat.Session) error {
		s.StartNew()
		return s.Welcome(ctx)
	})
}
