package chat

import (
	"math/rand"
	"strings"
)

// stoppedMessages acknowledge a reply interrupted with Ctrl+C.
var stoppedMessages = []string{
	"OK, I stopped. Your wish is my command.",
	"Alright, I stopped. I'm at your service.",
	"OK, I'm all ears. Your wish is my command.",
	"Alright, I paused. I'm at your service.",
	"Alright, I'm waiting for the next instruction.",
	"I've hit pause. Your wish is my command.",
	"Sure thing. Ready and waiting for your next move.",
	"Standing by for your command.",
	"I'm all set, waiting for your orders.",
	"I'm here, awaiting your direction.",
}

func stoppedMessage() string {
	return stoppedMessages[rand.Intn(len(stoppedMessages))]
}

// isExit reports whether input ends the session.
func isExit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", "/exit", "/quit", "/q":
		return true
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
