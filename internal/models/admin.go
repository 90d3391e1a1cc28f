package models

// SessionStats counts rows in the sessions table.
type SessionStats struct {
	TotalSessions  int `json:"totalSessions"`
	ActiveSessions int `json:"activeSessions"`
}

// EdgeStats summarizes the shared edge state.
type EdgeStats struct {
	CacheVersion     string       `json:"cacheVersion"`
	PageEntries      int          `json:"pageEntries"`
	RateLimitWindows int          `json:"rateLimitWindows"`
	MemoryUsage      string       `json:"memoryUsage"`
	Sessions         SessionStats `json:"sessions"`
}

// CacheInvalidateResponse reports the version tag after an explicit invalidation.
type CacheInvalidateResponse struct {
	Success      bool   `json:"success"`
	CacheVersion string `json:"cacheVersion"`
}

// ForceLogoutResponse reports how many sessions were revoked for a user.
type ForceLogoutResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	SessionsDeleted int    `json:"sessionsDeleted"`
}

// PurgeResponse reports the outcome of an expired-row purge.
type PurgeResponse struct {
	Success         bool `json:"success"`
	SessionsDeleted int  `json:"sessionsDeleted"`
	TokensDeleted   int  `json:"tokensDeleted"`
}
