package actions

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/models"
)

func TestWebhookAction_PostsExecutionContext(t *testing.T) {
	var received map[string]any

	var gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotHeader = r.Header.Get("X-Clinic-Token")

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	action := NewWebhookAction(slog.New(slog.DiscardHandler))

	detail, err := action.Execute(t.Context(), models.ExecutionContext{
		WorkflowID:  "wf-1",
		PatientID:   "p-1",
		TriggerType: "surgery_completed",
		DaysElapsed: 3,
		Variables:   map[string]string{"ward": "b2"},
	}, models.ActionPayload{
		Type:    models.ActionTypeWebhook,
		URL:     server.URL,
		Headers: map[string]string{"X-Clinic-Token": "secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, "wf-1", received["workflow_id"])
	assert.Equal(t, "p-1", received["patient_id"])
	assert.Equal(t, "surgery_completed", received["trigger_type"])
	assert.Equal(t, float64(3), received["days_elapsed"])

	assert.Equal(t, http.StatusOK, detail["status_code"])
	assert.Equal(t, `{"received":true}`, detail["body"])
}

func TestWebhookAction_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	action := NewWebhookAction(slog.New(slog.DiscardHandler))

	_, err := action.Execute(t.Context(), models.ExecutionContext{}, models.ActionPayload{
		Type: models.ActionTypeWebhook,
		URL:  server.URL,
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestWebhookAction_ClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	action := NewWebhookAction(slog.New(slog.DiscardHandler))

	_, err := action.Execute(t.Context(), models.ExecutionContext{}, models.ActionPayload{
		Type: models.ActionTypeWebhook,
		URL:  server.URL,
	})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "422")
}

func TestWebhookAction_ConnectionFailureIsTransient(t *testing.T) {
	action := NewWebhookAction(slog.New(slog.DiscardHandler))

	_, err := action.Execute(t.Context(), models.ExecutionContext{}, models.ActionPayload{
		Type: models.ActionTypeWebhook,
		URL:  "http://127.0.0.1:1",
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
