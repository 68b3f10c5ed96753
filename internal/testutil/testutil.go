// Package testutil provides shared HTTP test helpers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request. target may carry a query
// string, e.g. "/api/heatmap?min_db=70".
func NewTestRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
