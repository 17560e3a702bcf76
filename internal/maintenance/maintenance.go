// Package maintenance wires the replicated store's anti-entropy passes into
// the chord core's single maintenance tick, so a peer running the
// replicated service runs Stabilize, RunGlobalMaintenance and
// RunLocalMaintenance back to back on the same cadence, with one
// cooperative cancellation signal shared across all three.
package maintenance

import (
	"context"

	"github.com/chordhash/chordhash/internal/chord"
)

// AntiEntropy is the subset of internal/dhash.Service the scheduler needs;
// declared here (rather than importing internal/dhash directly) so a peer
// running the single-successor store alone never pulls in the replicated
// service's dependency tree.
type AntiEntropy interface {
	RunMaintenanceCycle(ctx context.Context, cancelled func() bool)
}

// Wire registers ae's RunMaintenanceCycle as core's per-tick hook, run
// immediately after Stabilize on every maintenance cycle. Call this once,
// before StartChord/Join, for peers using the replicated store; a
// single-successor-only peer never calls it, and core's maintenance loop
// then runs Stabilize alone.
func Wire(core *chord.Core, ae AntiEntropy) {
	core.SetExtraMaintenance(ae.RunMaintenanceCycle)
}
