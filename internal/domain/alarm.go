package domain

// AlarmName is the reserved name of the single reminder timer.
// Only the scheduler may create or clear timers under this name.
const AlarmName = "chime-reminder"

// AlarmStatus is the authoritative answer to "when is the next reminder".
type AlarmStatus struct {
	NextNotificationTime *int64 `json:"nextNotificationTime"` // unix ms, nil when not scheduled
	IsActive             bool   `json:"isActive"`
}

// VerifyResult reports the outcome of reconciling the live timer against
// the persisted schedule.
type VerifyResult struct {
	NeedsUpdate bool   `json:"needsUpdate"`
	CorrectTime *int64 `json:"correctTime,omitempty"` // unix ms, set when a correction was made
}

// PageInfo describes the user's current foreground page, when one is known.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
