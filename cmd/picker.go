package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/termgpt/termgpt/internal/session"
)

var (
	errNoConversations = errors.New("no saved conversations yet")
	errPickAborted     = errors.New("aborted")
)

// conversationArg returns the name given on the command line, or asks for
// one when there is none.
func conversationArg(store session.Store, args []string, action string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	infos, err := store.List()
	if err != nil {
		return "", fmt.Errorf("listing conversations: %w", err)
	}
	return pickConversation(os.Stdout, infos, action)
}

// pickConversation prints the saved conversations, most recent first, and
// reads a name with tab completion.
func pickConversation(out io.Writer, infos []session.Info, action string) (string, error) {
	if len(infos) == 0 {
		return "", errNoConversations
	}

	names := make([]string, len(infos))
	fmt.Fprintln(out, "Saved conversations:")
	for i, info := range infos {
		names[i] = info.Name
		fmt.Fprintf(out, "  %-40s %s  %3d messages\n", info.Name, info.UpdatedAt.Format("2006-01-02 15:04"), info.Messages)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		return matchNames(names, prefix)
	})

	name, err := line.Prompt(action + " which conversation? ")
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", errPickAborted
	}
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errPickAborted
	}
	return name, nil
}

func matchNames(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}
