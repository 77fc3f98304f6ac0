package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxTitleWords caps the number of words kept from a generated title.
const MaxTitleWords = 5

var (
	nonWord   = regexp.MustCompile(`[^a-z0-9]+`)
	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// SanitizeName turns a free-form title into a storage name: lowercase words
// joined by underscores, at most MaxTitleWords of them. It returns "" when
// nothing usable is left.
func SanitizeName(title string) string {
	words := strings.Fields(nonWord.ReplaceAllString(strings.ToLower(title), " "))
	if len(words) > MaxTitleWords {
		words = words[:MaxTitleWords]
	}
	return strings.Join(words, "_")
}

// ValidateName rejects names that are empty or could escape the store
// directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// UniqueName returns base, or base with a numeric suffix when it is already
// taken.
func UniqueName(base string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, n := range taken {
		used[n] = true
	}
	if !used[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !used[candidate] {
			return candidate
		}
	}
}

// FallbackName is used when no title could be generated.
func FallbackName() string {
	return "conversation_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
