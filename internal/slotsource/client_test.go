package slotsource

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSoonestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slots" {
			t.Errorf("path = %q, want /slots", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("orderBy") != "soonest" {
			t.Errorf("orderBy = %q, want soonest", q.Get("orderBy"))
		}
		if q.Get("limit") != "5" {
			t.Errorf("limit = %q, want 5", q.Get("limit"))
		}
		if q.Get("locationId") != "7" {
			t.Errorf("locationId = %q, want 7", q.Get("locationId"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"locationId":7,"startTimestamp":"2026-09-10T09:30"}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	slots, err := c.Soonest(t.Context(), 7)
	if err != nil {
		t.Fatalf("Soonest: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	if slots[0].LocationID != 7 || slots[0].StartTimestamp != "2026-09-10T09:30" {
		t.Fatalf("unexpected slot: %+v", slots[0])
	}

	start, err := slots[0].Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := time.Date(2026, 9, 10, 9, 30, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("start = %v, want %v", start, want)
	}
}

func TestSoonestEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	slots, err := c.Soonest(t.Context(), 7)
	if err != nil {
		t.Fatalf("Soonest: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("got %d slots, want 0", len(slots))
	}
}

func TestSoonestErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>maintenance</html>`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL})
			if _, err := c.Soonest(t.Context(), 7); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSlotStartRejectsGarbage(t *testing.T) {
	s := Slot{LocationID: 7, StartTimestamp: "tomorrow-ish"}
	if _, err := s.Start(); err == nil {
		t.Fatal("expected parse error")
	}
}
