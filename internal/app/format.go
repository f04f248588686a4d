package app

import (
	"fmt"
	"strings"
	"time"

	"seatwatch/internal/agent"
)

func formatStatus(st agent.Status, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", st.State)
	fmt.Fprintf(&b, "cycles: %d (up %s)\n", st.Cycles, now.Sub(st.StartedAt).Round(time.Second))
	if !st.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "last cycle: %s, %s ago\n", st.LastOutcome, now.Sub(st.LastCycleAt).Round(time.Second))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "last error: %s\n", st.LastError)
	}
	if st.Failures > 0 {
		fmt.Fprintf(&b, "consecutive failures: %d\n", st.Failures)
	}
	if !st.NextRunAt.IsZero() {
		in := st.NextRunAt.Sub(now).Round(time.Second)
		fmt.Fprintf(&b, "next check: in %s (%s)\n", max(in, 0), st.NextRule)
	}
	fmt.Fprintf(&b, "known items: %d\n", len(st.KnownItems))
	if st.ModeHour != nil {
		fmt.Fprintf(&b, "usual release hour: %02d:00 (%d samples)\n", *st.ModeHour, st.ReleaseSamples)
	} else {
		fmt.Fprintf(&b, "release samples: %d\n", st.ReleaseSamples)
	}
	if st.SaveFailing {
		b.WriteString("warning: last save failed\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
