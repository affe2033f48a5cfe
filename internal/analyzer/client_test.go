// internal/analyzer/client_test.go
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
)

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Contains(t, req.Prompt, "Budget: 400000")

		fmt.Fprint(w, `{"summary": "  Qualified buyer with financing in place.  "}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "test-model", 2*time.Second, logger.NewNop())

	summary, err := client.Summarize(context.Background(), "Budget: 400000\n")
	require.NoError(t, err)
	assert.Equal(t, "Qualified buyer with financing in place.", summary)
}

func TestSummarize_EmptySummaryFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"summary": ""}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "test-model", 2*time.Second, logger.NewNop())

	_, err := client.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeAnalysisFailed, stderrors.CodeOf(err))
}

func TestSummarize_TimeoutMapsToTimeoutCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"summary": "too late"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "test-model", 50*time.Millisecond, logger.NewNop())

	_, err := client.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeAnalysisTimeout, stderrors.CodeOf(err))
}

func TestSummarize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "test-model", 2*time.Second, logger.NewNop())

	_, err := client.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeAnalysisFailed, stderrors.CodeOf(err))
	assert.True(t, stderrors.IsRetryable(err))
}

func TestModel(t *testing.T) {
	client := NewClient("http://localhost", "key", "some-model", time.Second, logger.NewNop())
	assert.Equal(t, "some-model", client.Model())
}
