package command

// suggestedActions maps a task type to the default quick actions shown on the
// dashboard card.
var suggestedActions = map[string][]string{
	"callback":  {"Call Now", "Send SMS"},
	"call":      {"Call Now", "Schedule Call"},
	"showing":   {"Confirm Time", "Send Details"},
	"follow_up": {"Call", "Email"},
	"reminder":  {"Mark Done", "Snooze"},
	"email":     {"Send Email", "Draft"},
	"text":      {"Send SMS", "Call"},
	"meeting":   {"Add to Calendar", "Send Invite"},
	"contract":  {"Review", "Send"},
	"listing":   {"Send Listings", "Schedule Showing"},
	"other":     {"Start", "Add Note"},
}

// SuggestedActions returns the default actions for a task type.
func SuggestedActions(taskType string) []string {
	if a, ok := suggestedActions[taskType]; ok {
		return a
	}
	return suggestedActions["other"]
}
