// Package gateway tests for the HTTP client against a stub server.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plateshare/synckit/internal/errors"
)

// TestFetch verifies a fetched record decodes and a miss maps to NOT_FOUND.
func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tables/listings/l1" {
			json.NewEncoder(w).Encode(Record{ID: "l1", Table: "listings", Version: 3})
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)

	rec, err := c.Fetch(context.Background(), "listings", "l1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rec.ID != "l1" || rec.Version != 3 {
		t.Errorf("record mismatch: %+v", rec)
	}

	if _, err := c.Fetch(context.Background(), "listings", "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

// TestWriteSendsAuthAndIdempotencyKey verifies the mutation body and headers.
func TestWriteSendsAuthAndIdempotencyKey(t *testing.T) {
	var got Mutation
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Record{ID: got.RecordID, Table: got.Table, Version: 1})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token-123", time.Second)
	rec, err := c.Write(context.Background(), &Mutation{
		Kind:           "create_listing",
		Table:          "listings",
		RecordID:       "l1",
		Payload:        json.RawMessage(`{"title":"Apples"}`),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rec.ID != "l1" {
		t.Errorf("expected server record back, got %+v", rec)
	}
	if got.IdempotencyKey != "key-1" {
		t.Errorf("expected idempotency key delivered, got %q", got.IdempotencyKey)
	}
	if auth != "Bearer token-123" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
}

// TestWriteDeleteNoContent verifies a 204 acknowledges with no record.
func TestWriteDeleteNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	rec, err := c.Write(context.Background(), &Mutation{Kind: "delete_listing", Table: "listings", RecordID: "l1"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected no record for delete, got %+v", rec)
	}
}

// TestStatusMapping verifies HTTP statuses land on the right error codes, so
// the retry policy sees 401/422 as permanent and 503 as transient.
func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.ErrAuth},
		{http.StatusForbidden, errors.ErrForbidden},
		{http.StatusUnprocessableEntity, errors.ErrValidation},
		{http.StatusBadRequest, errors.ErrInvalid},
		{http.StatusConflict, errors.ErrSyncConflict},
		{http.StatusServiceUnavailable, errors.ErrServer},
		{http.StatusGatewayTimeout, errors.ErrTimeout},
	}

	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))

		c := NewHTTPClient(srv.URL, "", time.Second)
		_, err := c.List(context.Background(), "listings")
		if !errors.Is(err, tc.code) {
			t.Errorf("status %d: expected %s, got %v", tc.status, tc.code, err)
		}
		srv.Close()
	}
}

// TestUnreachableServer verifies transport failures map to NETWORK_ERROR.
func TestUnreachableServer(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", time.Second)
	if _, err := c.List(context.Background(), "listings"); !errors.Is(err, errors.ErrNetwork) {
		t.Errorf("expected NETWORK_ERROR, got %v", err)
	}
}
