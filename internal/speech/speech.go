package speech

import (
	"context"
	"fmt"

	"github.com/aininja-pro/cora-voice/internal/command"
)

// Synthesizer streams synthesized speech for a short confirmation phrase.
// Audio arrives as PCM16 48kHz chunks; the error channel carries at most one
// error and both channels close when synthesis ends.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// ConfirmationText phrases what was just done so the agent hears it read
// back while driving.
func ConfirmationText(cmd command.Command) string {
	switch cmd.Kind {
	case command.KindContact:
		if cmd.ContactType != "" && cmd.ContactType != "other" {
			return fmt.Sprintf("Added %s as a %s.", cmd.Contact, cmd.ContactType)
		}
		return fmt.Sprintf("Added %s to your contacts.", cmd.Contact)
	case command.KindTask:
		if cmd.TaskType == "showing" && cmd.Location != "TBD" && cmd.Location != "" {
			return fmt.Sprintf("Showing scheduled at %s for %s.", cmd.Location, cmd.Time)
		}
		return fmt.Sprintf("Task created: %s.", cmd.Title)
	case command.KindUrgentItem:
		return "Marked as urgent."
	case command.KindQueueItem:
		return "Added to your follow-up queue."
	}
	return "Sorry, I didn't catch that. Could you repeat it?"
}
