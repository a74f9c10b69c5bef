package constants

import "time"

const (
	FetchInterval         = 1 * time.Minute
	HistoryBucketMinutes  = 5
	VRChangeWindow        = 7 * 24 * time.Hour
	DefaultLeaderboardEnd = 100
)

const (
	NewPlayerBanThreshold = 15000
	BanDeltaThreshold     = 1000
	StaleAfter            = 48 * time.Hour
	ShortOutage           = 30 * time.Minute
	GraceWindow           = 48 * time.Hour
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)
