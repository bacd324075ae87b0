package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"guardbot/internal/modules/audit"
	"guardbot/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAuditCountsDetections(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.ObserveAudit(ctx, storage.AuditLog{Event: audit.EventSpam})
	m.ObserveAudit(ctx, storage.AuditLog{Event: audit.EventSpam})
	m.ObserveAudit(ctx, storage.AuditLog{Event: audit.EventRaid})
	m.ObserveAudit(ctx, storage.AuditLog{Event: audit.EventRaidCleared})

	if got := testutil.ToFloat64(m.detections.WithLabelValues(audit.EventSpam)); got != 2 {
		t.Fatalf("expected 2 spam detections, got %v", got)
	}
	if got := testutil.ToFloat64(m.detections.WithLabelValues(audit.EventRaid)); got != 1 {
		t.Fatalf("expected 1 raid detection, got %v", got)
	}
	if got := testutil.CollectAndCount(m.detections); got != 2 {
		t.Fatalf("expected cleared lockdowns to be ignored, got %d series", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RemediationFailed("ban")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `guardbot_remediation_failures_total{action="ban"} 1`) {
		t.Fatalf("expected failure counter in output, got %s", body)
	}
}
