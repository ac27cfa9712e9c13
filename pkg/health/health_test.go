package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("index", FromError(StatusDown, up))
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.Register("kafka", FromError(StatusDegraded, func(context.Context) error { return errors.New("no brokers") }))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "no brokers", report.Components["kafka"].Message)

	c.Register("reader", FromError(StatusDown, func(context.Context) error { return errors.New("db gone") }))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("index", FromError(StatusDown, up))
	routes := c.Routes()

	rec := httptest.NewRecorder()
	routes["/health/ready"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Contains(t, report.Components, "index")

	c.Register("reader", FromError(StatusDegraded, func(context.Context) error { return errors.New("slow") }))
	rec = httptest.NewRecorder()
	routes["/health/ready"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	routes["/health/live"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
