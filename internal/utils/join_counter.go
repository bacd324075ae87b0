package utils

import (
	"sync"
	"time"
)

type join struct {
	at     time.Time
	userID string
}

// JoinHistory is a per-community join log bounded to a retention period.
type JoinHistory struct {
	mu        sync.Mutex
	retention time.Duration
	entries   []join
}

func NewJoinHistory(retention time.Duration) *JoinHistory {
	return &JoinHistory{retention: retention}
}

// Add records a join and returns the number of joins kept for the retention period.
func (h *JoinHistory) Add(now time.Time, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked(now)
	h.entries = append(h.entries, join{at: now, userID: userID})
	return len(h.entries)
}

// CountWithin counts joins with now-at < window.
func (h *JoinHistory) CountWithin(now time.Time, window time.Duration) int {
	return len(h.Since(now, window))
}

// Total counts every join inside the retention period.
func (h *JoinHistory) Total(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(now)
	return len(h.entries)
}

// Since returns the user IDs that joined inside window, oldest first.
func (h *JoinHistory) Since(now time.Time, window time.Duration) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked(now)
	cutoff := now.Add(-window)
	var users []string
	for _, entry := range h.entries {
		if entry.at.After(cutoff) {
			users = append(users, entry.userID)
		}
	}
	return users
}

func (h *JoinHistory) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.retention)
	idx := 0
	for _, entry := range h.entries {
		if entry.at.After(cutoff) {
			break
		}
		idx++
	}
	h.entries = h.entries[idx:]
}
