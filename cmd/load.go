package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termgpt/termgpt/internal/chat"
	"github.com/termgpt/termgpt/internal/session"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [name]",
		Short: "Continue a saved conversation",
		Example: `  termgpt load
  termgpt load go_channels_explained`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args)
		},
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := conversationArg(a.store, args, "Load")
	if err != nil {
		return err
	}
	conv, err := a.store.Load(name)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no conversation named %q (see \"termgpt load\" for the list)", name)
	}
	if err != nil {
		return err
	}

	return a.runChat(name, func(ctx context.Context, s *chat.Session) error {
		s.Resume(name, conv)
		return s.WelcomeBack(ctx)
	})
}
