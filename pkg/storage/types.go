package storage

import "time"

// Run is one journaled capture run.
type Run struct {
	ID         int64
	StartedAt  time.Time
	Stem       string
	Phase      string
	FrameCount int
	DryRun     bool
	// SolarFallback is set when the phase came from the polar fallback.
	SolarFallback bool

	Canonical  string
	HDR        string
	Published  []string
	Synced     bool
	SyncErr    string
	DurationMS int64

	Shots []Shot
}

// Shot is one planned capture of a run.
type Shot struct {
	Tag        string
	Exposure   int
	FrameCount int
	Path       string
	Success    bool
	Error      string
}

// PhaseStats summarizes journaled runs per day phase.
type PhaseStats struct {
	Phase       string
	Runs        int
	FailedShots int
	SyncFailed  int
}
