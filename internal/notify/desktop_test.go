package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mizon/internal/session"
)

type call struct {
	name string
	args []string
}

func fakeDesktop(err error) (*Desktop, *[]call) {
	var calls []call
	d := NewDesktop("Mizon")
	d.run = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, call{name, args})
		return err
	}
	return d, &calls
}

func TestConfirm(t *testing.T) {
	d, calls := fakeDesktop(nil)
	d.Confirm(context.Background(), "Opened Banking")

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "notify-send", c.name)
	assert.Equal(t, []string{"-a", "Mizon", "-u", "normal", "-t", "3000", "Mizon", "Opened Banking"}, c.args)
}

func TestErrorIsCritical(t *testing.T) {
	d, calls := fakeDesktop(nil)
	d.Error(fmt.Errorf("%w: timeout", session.ErrConnectFailed))

	require.Len(t, *calls, 1)
	args := (*calls)[0].args
	assert.Equal(t, "critical", args[3])
	assert.Contains(t, args[len(args)-1], "mizon-ctl connect")
}

func TestFailuresAreSwallowed(t *testing.T) {
	d, calls := fakeDesktop(errors.New("no notification daemon"))
	d.Confirm(context.Background(), "x")
	d.Error(errors.New("boom"))
	assert.Len(t, *calls, 2)
}
