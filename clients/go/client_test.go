package costrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchCosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/costs" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"costs":{"provider":"aws","start":"2024-01-01","end":"2024-02-01","currency":"USD","total":"123.45","periods":[]}}`))
	}))
	defer srv.Close()

	report, err := NewClient(srv.URL+"/").FetchCosts(context.Background(), CostRequest{
		CloudProvider: AWS,
		StartDate:     "2024-01-01",
		EndDate:       "2024-02-01",
	})
	if err != nil {
		t.Fatalf("FetchCosts: %v", err)
	}
	if report.Total != "123.45" || report.Currency != "USD" {
		t.Errorf("unexpected report %+v", report)
	}
	if got["cloudProvider"] != "aws" {
		t.Errorf("expected cloudProvider aws, got %v", got["cloudProvider"])
	}
	if _, ok := got["scope"]; ok {
		t.Error("empty optional fields should be omitted")
	}
}

func TestFetchCostsErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"invalid provider", http.StatusBadRequest, `{"success":false,"message":"Invalid cloud provider."}`, "Invalid cloud provider."},
		{"provider failure", http.StatusInternalServerError, `{"success":false,"message":"aws cost explorer: throttled"}`, "aws cost explorer: throttled"},
		{"not json", http.StatusBadGateway, `bad gateway`, "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).FetchCosts(context.Background(), CostRequest{CloudProvider: "gcp"})
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.message {
				t.Errorf("got %d %q, want %d %q", apiErr.Status, apiErr.Message, tt.status, tt.message)
			}
		})
	}
}

func TestGetAdminStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"build_info":{"version":"1.2.0","commit":"abc"},"uptime":"5s","providers":[{"name":"aws","configured":true}]}`))
	}))
	defer srv.Close()

	status, err := NewAdminClient(srv.URL, "secret").GetAdminStatus(context.Background())
	if err != nil {
		t.Fatalf("GetAdminStatus: %v", err)
	}
	if status.BuildInfo.Version != "1.2.0" || len(status.Providers) != 1 || !status.Providers[0].Configured {
		t.Errorf("unexpected status %+v", status)
	}

	_, err = NewAdminClient(srv.URL, "wrong").GetAdminStatus(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "unauthorized" {
		t.Errorf("expected 401 unauthorized, got %v", err)
	}
}
