package domain

import "errors"

// ErrNotFound is returned by lookups when no player matches.
var ErrNotFound = errors.New("player not found")

type Player struct {
	PID           string
	FC            string
	EB            int
	EV            int
	Name          string
	RawAvatarData string
	AvatarData    string
	AvatarName    string
	Suspend       int
	LastUpdated   int64 // epoch ms
	OpenHost      bool
	Banned        bool
	Flagged       bool
}

// RankedPlayer is a player annotated with its leaderboard position and
// 7-day rating delta. Position is 1-based under the global ordering:
// non-banned first, higher ev first, more recently updated first.
type RankedPlayer struct {
	Player
	Position   int
	VRChange7d int
}

// CachedPlayer is the subset of a stored row the reconciliation cycle
// needs to diff an incoming snapshot against.
type CachedPlayer struct {
	RawAvatarData string
	AvatarData    string
	EV            int
	Banned        bool
	Flagged       bool
	LastUpdated   int64
}

type RatingSample struct {
	Timestamp int64 // bucket start, epoch ms
	VR        int
}

type LeaderboardPage struct {
	Players     []RankedPlayer
	TotalCount  int
	LastRefresh int64
}
