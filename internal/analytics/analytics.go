package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"guardbot/internal/storage"
)

// Source lists persisted audit entries.
type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, fmt.Errorf("list audit logs: %w", err)
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// String renders the report for a chat reply, busiest events first.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Since %s: %d entries", r.Since.UTC().Format(time.RFC3339), r.Total)
	if r.Total == 0 {
		return b.String()
	}
	levels := sortedKeys(r.ByLevel)
	parts := make([]string, 0, len(levels))
	for _, level := range levels {
		parts = append(parts, fmt.Sprintf("%s=%d", level, r.ByLevel[level]))
	}
	fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	for _, event := range sortedKeys(r.ByEvent) {
		fmt.Fprintf(&b, "\n- %s: %d", event, r.ByEvent[event])
	}
	return b.String()
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
