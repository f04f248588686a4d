package systemd

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"seatwatch/pkg/logx"
)

func TestNotifierStates(t *testing.T) {
	t.Parallel()
	var got []string
	n := &Notifier{log: logx.Nop(), notify: func(s string) (bool, error) {
		got = append(got, s)
		return true, nil
	}}
	n.Ready()
	n.Status("watching %d items", 3)
	n.Ping()
	n.Stopping()

	want := []string{"READY=1", "STATUS=watching 3 items", "WATCHDOG=1", "STOPPING=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %q", got)
	}
}

func TestPingCoalesces(t *testing.T) {
	t.Parallel()
	calls := 0
	n := &Notifier{log: logx.Nop(), interval: time.Hour, notify: func(string) (bool, error) {
		calls++
		return false, errors.New("no socket")
	}}
	n.Ping()
	n.Ping()
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
