package journal

import "time"

type Kind string

const (
	KindMessage Kind = "message"
	KindReply   Kind = "reply"
	// KindOperator is text posted by the operator or a scheduled report,
	// not a reply of the bot.
	KindOperator Kind = "operator"
)

// Event is one line of the interaction journal: an observed user message,
// a reply the bot sent or an operator post. Events are appended in chronological
// order.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	Text      string    `json:"text"`
	// Reason is the classifier reason for replies.
	Reason string `json:"reason,omitempty"`
	// Fallback is the completion error class when the reply was canned.
	Fallback string `json:"fallback,omitempty"`
}

// Recorder abstracts persistence of journal events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	Append(event Event) error
	Load() ([]Event, error)
}
