package chat

import "time"

const (
	MinTopK     = 1
	MaxTopK     = 10
	DefaultTopK = 3
)

// Session captures one in-memory conversation and its retrieval setting.
type Session struct {
	ID        string    `json:"id"`
	TopK      int       `json:"topK"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClampTopK bounds k to [MinTopK, MaxTopK]. Zero selects DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k == 0:
		return DefaultTopK
	case k < MinTopK:
		return MinTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}
