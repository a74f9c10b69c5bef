// Package ban implements the anti-cheat heuristics applied during
// reconciliation. The checks only ever raise the banned flag; clearing it is
// reserved for the administrative endpoint.
package ban

import (
	"rr-tracker/internal/constants"
)

// Config holds the two independent feature toggles.
type Config struct {
	NewPlayerCheck bool
	DeltaCheck     bool
}

// Previous is the last committed state of a player, as seen by the heuristic.
type Previous struct {
	EV          int
	Banned      bool
	LastUpdated int64 // epoch ms
}

// Grace is the process-wide cutoff (epoch ms) before which no automatic ban
// decision is applied. Computed once at startup from persisted state.
type Grace int64

// ComputeGrace derives the startup grace cutoff from the persisted last
// refresh timestamp. A short outage (under 30 minutes) gets no grace;
// anything longer suppresses ban decisions for 48 hours after the last
// refresh, so stale deltas observed right after recovery cannot trigger mass
// false positives.
func ComputeGrace(lastRefresh, now int64) Grace {
	if now < lastRefresh+constants.ShortOutage.Milliseconds() {
		return 0
	}
	return Grace(lastRefresh + constants.GraceWindow.Milliseconds())
}

// Evaluate returns the updated banned flag for a player given its previous
// record (nil on first sighting) and the freshly observed ev. It never
// downgrades an existing ban.
func Evaluate(prev *Previous, ev int, now int64, grace Grace, cfg Config) bool {
	if prev != nil && prev.Banned {
		return true
	}
	if now <= int64(grace) {
		return false
	}

	if prev == nil {
		// First sighting: an implausible starting rating is the only signal.
		return cfg.NewPlayerCheck && ev >= constants.NewPlayerBanThreshold
	}

	// A large jump after a long absence may span many untracked cycles and is
	// not evidence of cheating within one cycle.
	staleness := now - prev.LastUpdated
	if staleness >= constants.StaleAfter.Milliseconds() {
		return false
	}
	return cfg.DeltaCheck && ev-prev.EV >= constants.BanDeltaThreshold
}
