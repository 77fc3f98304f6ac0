package chat

import (
	"embed"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed prompts/*.md
var defaultPromptFS embed.FS

// Prompts are the fixed instructions the session sends alongside the
// conversation.
type Prompts struct {
	System      string // index 0 of every new conversation
	Welcome     string // transient, greets a new conversation
	WelcomeBack string // transient, greets a loaded conversation
	Title       string // asks the model to name the conversation
}

// LoadPrompts returns the embedded prompts, each replaced by
// {overrideDir}/{name}.md when that file exists and is not empty.
func LoadPrompts(overrideDir string) Prompts {
	p := Prompts{
		System:      loadPrompt("system", overrideDir),
		Welcome:     loadPrompt("welcome", overrideDir),
		WelcomeBack: loadPrompt("welcome_back", overrideDir),
		Title:       loadPrompt("title", overrideDir),
	}
	p.System = strings.ReplaceAll(p.System, "{platform}", runtime.GOOS+"/"+runtime.GOARCH)
	return p
}

func loadPrompt(name, overrideDir string) string {
	filename := name + ".md"
	if overrideDir != "" {
		if content := readFileString(filepath.Join(overrideDir, filename)); content != "" {
			return content
		}
	}
	data, err := defaultPromptFS.ReadFile("prompts/" + filename)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readFileString reads a file and returns its trimmed content.
// Returns empty string if the file doesn't exist or is empty.
func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
