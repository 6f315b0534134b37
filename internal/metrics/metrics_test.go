package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/guardian/internal/activity"
)

func TestCollectorCountsActivity(t *testing.T) {
	c := InitMetrics(nil)
	ctx := context.Background()

	c.Log(ctx, "alice", activity.LicenseIssued, map[string]any{"license_type": "commercial"})
	c.Log(ctx, "alice", activity.LicenseIssued, map[string]any{"license_type": "commercial"})
	c.Log(ctx, "alice", activity.LicenseIssued, nil)
	c.Log(ctx, "v1", activity.LicenseVerified, map[string]any{"valid": true})
	c.Log(ctx, "v2", activity.LicenseVerified, map[string]any{"valid": false})
	c.Log(ctx, "v3", activity.LicenseVerified, map[string]any{"valid": false, "outcome": "expired"})
	c.Log(ctx, "bob", activity.LicenseRequestCreated, nil)
	c.Log(ctx, "carol", activity.LicenseRequestApproved, nil)
	c.Log(ctx, "system", activity.RestoreCompleted, map[string]any{"restored": 3, "skipped": 1, "errors": 2})
	c.Log(ctx, "system", activity.RestoreMerged, map[string]any{"restored": 1})
	c.Log(ctx, "system", activity.RestoreDryRun, nil)
	c.Log(ctx, "system", activity.BackupCreated, nil)
	c.Log(ctx, "system", "something.else", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.licensesIssued.WithLabelValues("commercial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.licensesIssued.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsHandled.WithLabelValues("approve")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.capsulesRestored.WithLabelValues("restored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.capsulesRestored.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.capsulesRestored.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restoreRuns.WithLabelValues("restore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restoreRuns.WithLabelValues("merge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restoreRuns.WithLabelValues("dry_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backupsCreated))
}

func TestHandlerExposesCounters(t *testing.T) {
	c := InitMetrics(nil)
	c.Log(context.Background(), "alice", activity.LicenseIssued, map[string]any{"license_type": "standard"})

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `guardian_license_issued_total{type="standard"} 1`))
}
