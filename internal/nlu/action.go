package nlu

import "time"

type ActionType string

const (
	Navigate    ActionType = "navigate"
	AddNote     ActionType = "add_note"
	ProcessBill ActionType = "process_bill"
	OpenFeature ActionType = "open_feature"
	SetReminder ActionType = "reminder"
)

// Action is an app-level side effect derived from a conversation turn.
// Values are passed by copy and Items is never shared with the extractor.
type Action struct {
	Type         ActionType
	Route        string   // navigate, open_feature
	Items        []string // add_note
	Note         string   // reminder text, bill reference
	Confirmation string
}

type Reminder struct {
	Text      string
	CreatedAt time.Time
}
