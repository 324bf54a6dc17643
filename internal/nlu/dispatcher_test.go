package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeApp struct {
	routes    []string
	items     [][]string
	reminders []Reminder
	bills     []string
	confirms  []string
	failNav   bool
}

func (f *fakeApp) Navigate(_ context.Context, path string) error {
	if f.failNav {
		return errors.New("router down")
	}
	f.routes = append(f.routes, path)
	return nil
}

func (f *fakeApp) AppendItems(_ context.Context, items []string) error {
	f.items = append(f.items, items)
	return nil
}

func (f *fakeApp) CreateReminder(_ context.Context, r Reminder) error {
	f.reminders = append(f.reminders, r)
	return nil
}

func (f *fakeApp) ProcessBill(_ context.Context, note string) error {
	f.bills = append(f.bills, note)
	return nil
}

func (f *fakeApp) Confirm(_ context.Context, msg string) {
	f.confirms = append(f.confirms, msg)
}

func newExecutor(app *fakeApp) *Executor {
	return &Executor{Navigator: app, Notes: app, Reminders: app, Bills: app, Notifier: app}
}

func TestExecuteNavigate(t *testing.T) {
	app := &fakeApp{}
	got := newExecutor(app).Execute(context.Background(), Action{Type: Navigate, Route: "/banking", Confirmation: "Opened Banking"})
	assert.Equal(t, "Opened Banking", got)
	assert.Equal(t, []string{"/banking"}, app.routes)
	assert.Equal(t, []string{"Opened Banking"}, app.confirms)
}

func TestExecuteAddNote(t *testing.T) {
	app := &fakeApp{}
	newExecutor(app).Execute(context.Background(), Action{Type: AddNote, Items: []string{"milk"}, Confirmation: "Added milk"})
	assert.Equal(t, [][]string{{"milk"}}, app.items)
	assert.Equal(t, []string{"Added milk"}, app.confirms)
}

func TestExecuteProcessBillNavigatesToBills(t *testing.T) {
	app := &fakeApp{}
	newExecutor(app).Execute(context.Background(), Action{Type: ProcessBill, Note: "water bill", Confirmation: "Processing"})
	assert.Equal(t, []string{"water bill"}, app.bills)
	assert.Equal(t, []string{"/bills"}, app.routes)
}

func TestExecuteReminderAndFeature(t *testing.T) {
	app := &fakeApp{}
	ex := newExecutor(app)
	ex.Execute(context.Background(), Action{Type: SetReminder, Note: "call mom", Confirmation: "Reminder set"})
	ex.Execute(context.Background(), Feature("/settings", "Settings", "en"))

	assert.Len(t, app.reminders, 1)
	assert.Equal(t, "call mom", app.reminders[0].Text)
	assert.False(t, app.reminders[0].CreatedAt.IsZero())
	assert.Equal(t, []string{"/settings"}, app.routes)
	assert.Equal(t, []string{"Reminder set", "Opened Settings"}, app.confirms)
}

func TestExecuteCollaboratorErrorIsSwallowed(t *testing.T) {
	app := &fakeApp{failNav: true}
	got := newExecutor(app).Execute(context.Background(), Action{Type: Navigate, Route: "/health", Confirmation: "Opened Health"})
	assert.Equal(t, "Opened Health", got)
	assert.Empty(t, app.routes)
	assert.Equal(t, []string{"Opened Health"}, app.confirms)
}

func TestExecuteMissingCollaborators(t *testing.T) {
	ex := &Executor{}
	assert.NotPanics(t, func() {
		ex.Execute(context.Background(), Action{Type: AddNote, Items: []string{"rice"}})
		ex.Execute(context.Background(), Action{Type: "bogus"})
	})
}
