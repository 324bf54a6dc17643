package nlu

import (
	"context"
	"fmt"
	log "log/slog"
	"time"
)

type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

type NotesStore interface {
	AppendItems(ctx context.Context, items []string) error
}

type ReminderStore interface {
	CreateReminder(ctx context.Context, r Reminder) error
}

type BillProcessor interface {
	ProcessBill(ctx context.Context, note string) error
}

// Notifier is the user-visible confirmation surface (toast, alert).
type Notifier interface {
	Confirm(ctx context.Context, message string)
}

// Executor applies actions against the app. Collaborator failures are logged
// and never returned: a failed side effect must not disturb the session.
type Executor struct {
	Navigator Navigator
	Notes     NotesStore
	Reminders ReminderStore
	Bills     BillProcessor
	Notifier  Notifier
}

const billsRoute = "/bills"

// Execute runs a and returns its confirmation text.
func (e *Executor) Execute(ctx context.Context, a Action) string {
	log.Info("Executing action", "type", a.Type, "route", a.Route, "items", a.Items)

	var err error
	switch a.Type {
	case Navigate, OpenFeature:
		err = e.navigate(ctx, a.Route)
	case AddNote:
		if e.Notes == nil {
			err = fmt.Errorf("no notes store")
			break
		}
		err = e.Notes.AppendItems(ctx, append([]string(nil), a.Items...))
	case ProcessBill:
		if e.Bills == nil {
			err = fmt.Errorf("no bill processor")
			break
		}
		if err = e.Bills.ProcessBill(ctx, a.Note); err == nil {
			err = e.navigate(ctx, billsRoute)
		}
	case SetReminder:
		if e.Reminders == nil {
			err = fmt.Errorf("no reminder store")
			break
		}
		err = e.Reminders.CreateReminder(ctx, Reminder{Text: a.Note, CreatedAt: time.Now()})
	default:
		err = fmt.Errorf("unknown action type %q", a.Type)
	}
	if err != nil {
		log.Error("Action failed", "type", a.Type, "err", err)
	}

	if e.Notifier != nil && a.Confirmation != "" {
		e.Notifier.Confirm(ctx, a.Confirmation)
	}
	return a.Confirmation
}

func (e *Executor) navigate(ctx context.Context, path string) error {
	if e.Navigator == nil {
		return fmt.Errorf("no navigator")
	}
	return e.Navigator.Navigate(ctx, path)
}
