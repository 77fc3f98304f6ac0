package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termgpt/termgpt/internal/session"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := conversationArg(a.store, args, "Delete")
			if err != nil {
				return err
			}
			if err := a.store.Delete(name); err != nil {
				if errors.Is(err, session.ErrNotFound) {
					return fmt.Errorf("no conversation named %q", name)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %q deleted.\n", name)
			return nil
		},
	}
}
