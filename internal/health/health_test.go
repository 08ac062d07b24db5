package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hifzlab/tasmee/internal/quran"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body liveness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.UptimeS < 0 {
		t.Errorf("uptime_s = %d, want >= 0", body.UptimeS)
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	h := New(
		Checker{Name: "store", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "quran_source", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !body.Ready {
		t.Error("ready = false, want true")
	}
	for _, name := range []string{"store", "quran_source"} {
		p, ok := body.Probes[name]
		if !ok {
			t.Fatalf("probe %q missing from body", name)
		}
		if !p.OK || p.Error != "" {
			t.Errorf("probe %q = %+v, want ok with no error", name, p)
		}
	}
}

func TestReadyz_ProbeFails(t *testing.T) {
	h := New(
		Checker{Name: "store", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "quran_source", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Ready {
		t.Error("ready = true, want false")
	}
	if p := body.Probes["store"]; p.OK || p.Error != "connection refused" {
		t.Errorf("store probe = %+v, want failure with cause", p)
	}
	if p := body.Probes["quran_source"]; !p.OK {
		t.Errorf("quran_source probe = %+v, want ok despite store failure", p)
	}
}

func TestReadyz_NoProbes(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !body.Ready {
		t.Error("ready = false, want true with no probes")
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// ── Domain checkers ───────────────────────────────────────────────────────────

type fakeAyahSource struct {
	ayahs []quran.Ayah
	err   error
}

func (f *fakeAyahSource) Ayahs(_ context.Context, _, _, _ int) ([]quran.Ayah, error) {
	return f.ayahs, f.err
}

func TestSourceChecker(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeAyahSource
		wantOK bool
	}{
		{
			name:   "healthy",
			source: &fakeAyahSource{ayahs: []quran.Ayah{{Surah: 1, Number: 1, Text: "بسم الله الرحمن الرحيم"}}},
			wantOK: true,
		},
		{
			name:   "fetch error",
			source: &fakeAyahSource{err: errors.New("corpus unreadable")},
			wantOK: false,
		},
		{
			name:   "empty result",
			source: &fakeAyahSource{},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := SourceChecker(tc.source)
			if c.Name != "quran_source" {
				t.Errorf("checker name = %q, want %q", c.Name, "quran_source")
			}
			err := c.Check(context.Background())
			if tc.wantOK && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestStoreChecker(t *testing.T) {
	c := StoreChecker(&fakePinger{})
	if c.Name != "store" {
		t.Errorf("checker name = %q, want %q", c.Name, "store")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	c = StoreChecker(&fakePinger{err: errors.New("dial tcp: refused")})
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected ping error, got nil")
	}
}
