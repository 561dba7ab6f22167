package chat

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus records how an assistant turn reached its terminal state.
type TurnStatus string

const (
	StatusComplete    TurnStatus = "complete"
	StatusRefused     TurnStatus = "refused"
	StatusFailed      TurnStatus = "failed"
	StatusInterrupted TurnStatus = "interrupted"
)

// Source is a citation shown next to an assistant answer.
type Source struct {
	Label    string  `json:"label"`
	URL      string  `json:"url"`
	Distance float64 `json:"distance"`
}

// Turn is one finalized entry of the conversation log. Turns are never
// modified once appended.
type Turn struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Seq       int        `json:"seq"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Status    TurnStatus `json:"status,omitempty"`
	Sources   []Source   `json:"sources,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Clone returns a copy that shares no slices with t.
func (t Turn) Clone() Turn {
	if t.Sources != nil {
		t.Sources = append([]Source(nil), t.Sources...)
	}
	return t
}
