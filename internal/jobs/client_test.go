package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// --- Invoke Tests ---

func TestClient_Invoke(t *testing.T) {
	var got invokeBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if key := r.Header.Get("Idempotency-Key"); key != "exec-1/train_model" {
			t.Errorf("unexpected idempotency key %q", key)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Errorf("custom header missing, got %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"jobId": "job-42", "solutionArn": "arn:x"})
	}))
	defer server.Close()

	c := New(Config{
		Kind:    domain.JobKindModelTraining,
		BaseURL: server.URL + "/",
		Headers: map[string]string{"Authorization": "Bearer token"},
	})

	res, err := c.Invoke(context.Background(), engine.InvokeRequest{
		ExecutionID: "exec-1",
		Stage:       "train_model",
		Input:       map[string]any{"datasetGroupArn": "arn:dg"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Handle.ID != "job-42" || res.Handle.Kind != domain.JobKindModelTraining {
		t.Errorf("unexpected handle %+v", res.Handle)
	}
	if res.Fields["solutionArn"] != "arn:x" {
		t.Errorf("response fields should be kept, got %v", res.Fields)
	}
	if got.ExecutionID != "exec-1" || got.Stage != "train_model" || got.Input["datasetGroupArn"] != "arn:dg" {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestClient_InvokeSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"isCompleted": true, "skipped": true})
	}))
	defer server.Close()

	c := New(Config{Kind: domain.JobKindBatchInference, BaseURL: server.URL})
	res, err := c.Invoke(context.Background(), engine.InvokeRequest{ExecutionID: "e", Stage: "batch_inference"})
	if err != nil {
		t.Fatalf("skipped result without job id should be accepted: %v", err)
	}
	if !res.Skipped || !res.Completed || !res.AlreadySatisfied() {
		t.Errorf("expected skipped and completed, got %+v", res)
	}
}

func TestClient_InvokeMissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "queued"})
	}))
	defer server.Close()

	c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: server.URL})
	_, err := c.Invoke(context.Background(), engine.InvokeRequest{ExecutionID: "e", Stage: "dataset_import"})
	if !errors.Is(err, engine.ErrMissingJobID) {
		t.Errorf("expected ErrMissingJobID, got %v", err)
	}
}

func TestClient_InvokeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("AccessDenied"))
	}))
	defer server.Close()

	c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: server.URL})
	_, err := c.Invoke(context.Background(), engine.InvokeRequest{ExecutionID: "e", Stage: "dataset_import"})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
	if engine.IsTransient(err) {
		t.Error("invoke errors are never transient")
	}
}

// --- Poll Tests ---

func TestClient_Poll(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		want   domain.JobState
		reason string
	}{
		{"in progress", map[string]any{"status": "CREATE IN_PROGRESS"}, domain.JobPending, ""},
		{"active", map[string]any{"status": "ACTIVE"}, domain.JobSucceeded, ""},
		{"completed flag", map[string]any{"isCompleted": true, "outputLocation": "s3://x"}, domain.JobSucceeded, ""},
		{"not completed flag", map[string]any{"isCompleted": false}, domain.JobPending, ""},
		{"create failed", map[string]any{"status": "CREATE FAILED", "failureReason": "bad schema"}, domain.JobFailed, "bad schema"},
		{"failed", map[string]any{"status": "failed", "errorMessage": "oom"}, domain.JobFailed, "oom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/jobs/job-1" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: server.URL})
			res, err := c.Poll(context.Background(), domain.JobHandle{ID: "job-1", Kind: domain.JobKindDatasetImport})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.State != tt.want {
				t.Errorf("state = %s, want %s", res.State, tt.want)
			}
			if res.FailureReason != tt.reason {
				t.Errorf("failure reason = %q, want %q", res.FailureReason, tt.reason)
			}
		})
	}
}

func TestClient_PollTransient(t *testing.T) {
	for _, code := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: server.URL})
		_, err := c.Poll(context.Background(), domain.JobHandle{ID: "job-1"})
		if !engine.IsTransient(err) {
			t.Errorf("HTTP %d should be transient, got %v", code, err)
		}
		server.Close()
	}
}

func TestClient_PollTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: url})
	_, err := c.Poll(context.Background(), domain.JobHandle{ID: "job-1"})
	if !engine.IsTransient(err) {
		t.Errorf("transport failure should be transient, got %v", err)
	}
}

func TestClient_PollNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "job not found"})
	}))
	defer server.Close()

	c := New(Config{Kind: domain.JobKindDatasetImport, BaseURL: server.URL})
	_, err := c.Poll(context.Background(), domain.JobHandle{ID: "job-1"})
	if err == nil || engine.IsTransient(err) {
		t.Errorf("404 should be a permanent error, got %v", err)
	}
}

// --- NewServices Tests ---

func TestNewServices_OnlyConfigured(t *testing.T) {
	svcs := NewServices(Endpoints{
		DatasetImport: "http://import:8080",
		TrainModel:    "http://train:8080",
	}, Options{})

	if svcs.DatasetImport == nil || svcs.TrainModel == nil {
		t.Error("configured services should be set")
	}
	// Без typed nil: сборка pipeline должна увидеть отсутствие сервиса
	if svcs.IdentityResolution != nil || svcs.VersionModel != nil || svcs.BatchInference != nil {
		t.Error("unconfigured services should stay nil")
	}

	_, err := engine.BuildIntegration(engine.Flags{Recommendation: true}, svcs, engine.Finalizers{}, engine.Options{})
	if !errors.Is(err, engine.ErrMissingService) {
		t.Errorf("expected ErrMissingService for version_model, got %v", err)
	}
}
