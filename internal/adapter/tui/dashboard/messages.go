// Package dashboard implements the terminal status view of projects, teams
// and agents.
package dashboard

import "time"

// SnapshotMsg carries a freshly loaded snapshot.
type SnapshotMsg struct {
	Snapshot *Snapshot
	Err      error
}

// tickMsg triggers the next refresh.
type tickMsg time.Time
