package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aininja-pro/cora-voice/internal/command"
	"github.com/aininja-pro/cora-voice/internal/dashboard"
	"github.com/aininja-pro/cora-voice/internal/dedup"
)

// ErrAmbiguous marks a command the classifier could not resolve into an
// action. The session reports it and keeps going.
var ErrAmbiguous = errors.New("dispatch: command could not be classified")

// Status records the outcome of one dispatch attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusSuppressed Status = "suppressed"
)

// Action is the record of one dispatched command.
type Action struct {
	SessionID   string
	Command     command.Command
	Status      Status
	ContentHash string
	At          time.Time
	Err         error
}

// DashboardWriter persists contacts and tasks. Satisfied by *dashboard.Client.
type DashboardWriter interface {
	CreateContact(ctx context.Context, c dashboard.Contact) error
	CreateTask(ctx context.Context, t dashboard.Task) error
}

// ItemStore receives urgent and queued items. Satisfied by *dashboard.TaskStore.
type ItemStore interface {
	AddUrgent(item dashboard.Item)
	AddQueue(item dashboard.Item)
}

// Notifier sends a confirmation message after a lead is captured. Optional.
type Notifier interface {
	Send(to, template string, payload map[string]string) error
}

// Dispatcher routes classified commands to their targets exactly once per
// content-hash window. One dispatcher is shared by all sessions so the
// duplicate gate spans transports.
type Dispatcher struct {
	board    DashboardWriter
	store    ItemStore
	notifier Notifier
	gate     *dedup.ContentCache
}

func New(board DashboardWriter, store ItemStore) *Dispatcher {
	return &Dispatcher{
		board: board,
		store: store,
		gate:  dedup.NewContentCache(dedup.ContentTTL),
	}
}

// WithNotifier enables SMS confirmation for captured leads with a phone number.
func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// Dispatch applies one command. Duplicate content within the suppression
// window returns StatusSuppressed without touching any collaborator. A
// collaborator failure is recoverable: the action is marked failed, the error
// is returned, and nothing retries.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, cmd command.Command) (*Action, error) {
	act := &Action{
		SessionID:   sessionID,
		Command:     cmd,
		Status:      StatusPending,
		ContentHash: cmd.ContentHash(),
		At:          time.Now(),
	}

	if cmd.Kind == command.KindUnrecognized {
		act.Status = StatusFailed
		act.Err = ErrAmbiguous
		return act, ErrAmbiguous
	}

	if !d.gate.Admit(act.ContentHash) {
		log.Printf("[%s] suppressed duplicate %s command (hash %.12s)", sessionID, cmd.Kind, act.ContentHash)
		act.Status = StatusSuppressed
		return act, nil
	}

	var err error
	switch cmd.Kind {
	case command.KindContact:
		err = d.board.CreateContact(ctx, dashboard.Contact{
			Name:        cmd.Contact,
			ContactType: cmd.ContactType,
			Phone:       cmd.Phone,
			Notes:       cmd.Description,
		})
		if err == nil && d.notifier != nil && cmd.Phone != "" {
			if nerr := d.notifier.Send(cmd.Phone, "lead_captured", map[string]string{
				"name":  cmd.Contact,
				"phone": cmd.Phone,
			}); nerr != nil {
				log.Printf("[%s] lead confirmation SMS failed: %v", sessionID, nerr)
			}
		}
	case command.KindTask:
		err = d.board.CreateTask(ctx, dashboard.Task{
			Title:       cmd.Title,
			Description: cmd.Description,
			TaskType:    cmd.TaskType,
			Priority:    cmd.Priority,
			Location:    cmd.Location,
			DueTime:     cmd.Time,
			Actions:     cmd.Actions,
		})
		if err == nil && d.notifier != nil && cmd.TaskType == "showing" && cmd.Phone != "" {
			if nerr := d.notifier.Send(cmd.Phone, "showing_confirm", map[string]string{
				"address": cmd.Location,
				"when":    cmd.Time,
			}); nerr != nil {
				log.Printf("[%s] showing confirmation SMS failed: %v", sessionID, nerr)
			}
		}
	case command.KindUrgentItem:
		d.store.AddUrgent(itemFromCommand(cmd))
	case command.KindQueueItem:
		d.store.AddQueue(itemFromCommand(cmd))
	default:
		err = fmt.Errorf("dispatch: unknown command kind %q", cmd.Kind)
	}

	if err != nil {
		act.Status = StatusFailed
		act.Err = err
		return act, fmt.Errorf("dispatch %s: %w", cmd.Kind, err)
	}
	act.Status = StatusApplied
	return act, nil
}

func itemFromCommand(cmd command.Command) dashboard.Item {
	return dashboard.Item{
		ID:          cmd.ContentHash()[:12],
		Title:       cmd.Title,
		Description: cmd.Description,
		Contact:     cmd.Contact,
		Phone:       cmd.Phone,
		Location:    cmd.Location,
		Time:        cmd.Time,
		TaskType:    cmd.TaskType,
		Priority:    cmd.Priority,
		Actions:     cmd.Actions,
	}
}
