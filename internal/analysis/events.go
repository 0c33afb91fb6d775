package analysis

// Event is one entry in the ordered event sequence of an analysis run.
// Events preserve chronological chunk arrival order; discovery counts are
// monotonic and never exceed the counts in the terminal result.
type Event interface {
	isEvent()
}

// ThinkingEvent carries a reasoning delta, emitted immediately.
type ThinkingEvent struct {
	Text string `json:"text"`
}

// InsightFoundEvent signals that one more annotation element completed
// inside the still-streaming response. Total is the running count.
type InsightFoundEvent struct {
	Total int `json:"total"`
}

// QuizQuestionFoundEvent signals one more completed quiz question.
type QuizQuestionFoundEvent struct {
	Total int `json:"total"`
}

// UsageEvent carries provider token accounting.
type UsageEvent struct {
	Usage Usage `json:"usage"`
}

// CompletedEvent is the terminal success event.
type CompletedEvent struct {
	Result *Result `json:"result"`
}

// FailedEvent is the terminal failure event.
type FailedEvent struct {
	Err error `json:"-"`
}

func (ThinkingEvent) isEvent()          {}
func (InsightFoundEvent) isEvent()      {}
func (QuizQuestionFoundEvent) isEvent() {}
func (UsageEvent) isEvent()             {}
func (CompletedEvent) isEvent()         {}
func (FailedEvent) isEvent()            {}
