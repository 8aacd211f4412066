package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSessionCounter struct{ n int }

func (f fakeSessionCounter) Count() int { return f.n }

func TestCheckReportsHealthyWithoutTouchingDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "telemetry-core", "1.0.0")
	response := checker.Check()

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "telemetry-core", response.Service)
	assert.Equal(t, "1.0.0", response.Version)
}

func TestCheckReadinessUnhealthyWithoutDatabase(t *testing.T) {
	checker := NewHealthChecker(nil, nil, fakeSessionCounter{n: 3}, "telemetry-core", "1.0.0")
	response := checker.CheckReadiness(context.Background())

	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.NotEmpty(t, response.Errors)
	require := response.Dependencies["database"]
	assert.Equal(t, StatusUnhealthy, require.Status)
}

func TestCheckReadinessReportsLiveSessionCount(t *testing.T) {
	checker := NewHealthChecker(nil, nil, fakeSessionCounter{n: 7}, "telemetry-core", "1.0.0")
	response := checker.CheckReadiness(context.Background())

	assert.Equal(t, 7, response.System.LiveSessions)
}

func TestGetUptimeGrows(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "telemetry-core", "1.0.0")
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, checker.GetUptime(), time.Duration(0))
}

func TestCheckLivenessIgnoresDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "telemetry-core", "1.0.0")
	response := checker.CheckLiveness()
	assert.Equal(t, StatusHealthy, response.Status)
	assert.Nil(t, response.Dependencies)
}
