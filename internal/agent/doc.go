// Package agent runs the observe → reason → act → adapt loop.
//
// One Agent owns the memory record for the life of the process. Cycles are
// strictly sequential; every cycle that observed something is persisted
// before the agent notifies or sleeps, and shutdown only interrupts the sleep
// between cycles.
package agent
