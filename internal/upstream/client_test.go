package upstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// Test Fixtures and Helpers

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:     server.URL,
		AccessToken: "test-token",
		Timeout:     5 * time.Second,
	}, discardLogger())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func testRequest() WindowRequest {
	return WindowRequest{
		ProjectID:   "proj-1",
		AdAccountID: "act_1",
		TimeRange:   TimeRange{Since: "2025-01-01", Until: "2025-01-30"},
	}
}

// =============================================================================
// Client Tests
// =============================================================================

func TestSyncWindow_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq WindowRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"daily_records_count": 30},
		})
	})

	result, err := client.SyncWindow(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if result.RecordsImported != 30 {
		t.Errorf("expected 30 records, got %d", result.RecordsImported)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
	if gotPath != "/api/sync/window" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotReq.TimeRange.Since != "2025-01-01" || gotReq.TimeRange.Until != "2025-01-30" {
		t.Errorf("unexpected forwarded range: %+v", gotReq.TimeRange)
	}
}

func TestSyncWindow_ZeroRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"daily_records_count": 0},
		})
	})

	result, err := client.SyncWindow(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("zero records must not be an error: %v", err)
	}
	if result.RecordsImported != 0 {
		t.Errorf("expected 0 records, got %d", result.RecordsImported)
	}
}

func TestSyncWindow_Http429(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.SyncWindow(context.Background(), testRequest())
	if !IsRateLimited(err) {
		t.Errorf("expected rate limit classification, got %v", err)
	}
}

func TestSyncWindow_RateLimitCode(t *testing.T) {
	// Quota errors often arrive as HTTP 400 with the limit code in the envelope
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": 17, "message": "User request limit reached"},
		})
	})

	_, err := client.SyncWindow(context.Background(), testRequest())
	if !IsRateLimited(err) {
		t.Errorf("expected rate limit classification for code 17, got %v", err)
	}
}

func TestSyncWindow_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": 1, "message": "upstream unavailable"},
		})
	})

	_, err := client.SyncWindow(context.Background(), testRequest())
	if !IsTransient(err) {
		t.Errorf("expected transient classification for 502, got %v", err)
	}
}

func TestSyncWindow_PermanentAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": 100, "message": "Invalid parameter"},
		})
	})

	_, err := client.SyncWindow(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRateLimited(err) || IsTransient(err) {
		t.Errorf("invalid parameter must be permanent, got %v", err)
	}
}

func TestSyncWindow_ConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: url, AccessToken: "t", Timeout: time.Second},
		discardLogger())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}

	_, err = client.SyncWindow(context.Background(), testRequest())
	if !IsTransient(err) {
		t.Errorf("expected transient classification for refused connection, got %v", err)
	}
}

func TestSyncBreakdown_RequiresDimension(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := client.SyncBreakdown(context.Background(), testRequest()); err == nil {
		t.Error("expected error for missing breakdown dimension")
	}
}

func TestSyncBreakdown_Path(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"daily_records_count": 12},
		})
	})

	req := testRequest()
	req.Breakdown = "age_gender"
	result, err := client.SyncBreakdown(context.Background(), req)
	if err != nil {
		t.Fatalf("breakdown sync failed: %v", err)
	}
	if gotPath != "/api/sync/breakdown" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if result.RecordsImported != 12 {
		t.Errorf("expected 12 records, got %d", result.RecordsImported)
	}
}

func TestNewClient_MissingConfig(t *testing.T) {
	_, err := NewClient(Config{}, discardLogger())
	if !IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}
