package budget

// DefaultSafetyBufferPercent is held back from the context window so the
// reply has room and estimation error does not overflow the window.
const DefaultSafetyBufferPercent = 25

// TokenBudget tracks a conversation against its token limit.
type TokenBudget struct {
	TokenLimit int // max prompt tokens sent to the model
	TotalUsage int // provider-reported total of the last call, or the local estimate
}

// NewTokenBudget creates a TokenBudget with the given limit.
func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{TokenLimit: limit}
}

// DeriveTokenLimit returns the token limit for a model with the given
// context window after holding back safetyPercent of it.
func DeriveTokenLimit(contextWindow, safetyPercent int) int {
	if safetyPercent < 0 || safetyPercent >= 100 {
		safetyPercent = DefaultSafetyBufferPercent
	}
	return contextWindow * (100 - safetyPercent) / 100
}

// Exceeded reports whether the current usage is over the limit.
func (b *TokenBudget) Exceeded() bool {
	return Exceeding(b.TotalUsage, b.TokenLimit)
}

// Remaining returns how many tokens are left before the limit.
func (b *TokenBudget) Remaining() int {
	if r := b.TokenLimit - b.TotalUsage; r > 0 {
		return r
	}
	return 0
}

// PersistThreshold is the usage above which an unnamed conversation is worth
// saving.
func (b *TokenBudget) PersistThreshold(fraction float64) int {
	return int(float64(b.TokenLimit) * fraction)
}

// ShouldPersist reports whether usage crossed the save threshold.
func (b *TokenBudget) ShouldPersist(fraction float64) bool {
	return b.TotalUsage > b.PersistThreshold(fraction)
}
