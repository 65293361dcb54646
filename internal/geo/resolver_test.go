package geo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
)

var fallback = geo.Region{Country: "India", Code: "IN"}

func newResolver(srvURL string, opts ...geo.Option) *geo.Resolver {
	opts = append([]geo.Option{geo.WithBaseURL(srvURL), geo.WithRate(0)}, opts...)
	return geo.NewResolver(fallback, opts...)
}

func TestResolve_Success(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`[{"address":{"country":"Testland","country_code":"tl"}}]`))
	}))
	defer srv.Close()

	r := newResolver(srv.URL, geo.WithUserAgent("leadscout-test"))
	got := r.Resolve(context.Background(), "Testville")

	assert.Equal(t, geo.Region{Country: "Testland", Code: "TL"}, got)
	assert.Equal(t, "Testville", gotQuery)
	assert.Equal(t, "leadscout-test", gotUA)
}

func TestResolve_CachesSuccessfulLookups(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"address":{"country":"United Kingdom","country_code":"gb"}}]`))
	}))
	defer srv.Close()

	r := newResolver(srv.URL)
	r.Resolve(context.Background(), "London")
	r.Resolve(context.Background(), "  london ")

	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_Timeout_ReturnsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	r := newResolver(srv.URL, geo.WithTimeout(50*time.Millisecond))
	got := r.Resolve(context.Background(), "Testville")
	assert.Equal(t, fallback, got)
}

func TestResolve_FailureModes_ReturnFallback(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"server error", http.StatusServiceUnavailable, ``},
		{"empty result", http.StatusOK, `[]`},
		{"no country component", http.StatusOK, `[{"address":{"city":"Nowhere"}}]`},
		{"malformed json", http.StatusOK, `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			assert.Equal(t, fallback, newResolver(srv.URL).Resolve(context.Background(), "X"))
		})
	}
}

func TestResolve_EmptyLocation_ReturnsFallbackWithoutCall(t *testing.T) {
	r := newResolver("http://127.0.0.1:1")
	assert.Equal(t, fallback, r.Resolve(context.Background(), "  "))
}

type stubLimiter struct {
	denials int
	calls   int
	err     error
}

func (l *stubLimiter) Allow(_ context.Context, _ string) (bool, error) {
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls > l.denials, nil
}

func TestResolve_WaitsForSharedLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"address":{"country":"France","country_code":"fr"}}]`))
	}))
	defer srv.Close()

	lim := &stubLimiter{denials: 1}
	got := newResolver(srv.URL, geo.WithSharedLimiter(lim)).Resolve(context.Background(), "Paris")

	assert.Equal(t, "FR", got.Code)
	assert.Equal(t, 2, lim.calls)
}

func TestResolve_SharedLimiterErrorDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"address":{"country":"France","country_code":"fr"}}]`))
	}))
	defer srv.Close()

	lim := &stubLimiter{err: errors.New("redis down")}
	got := newResolver(srv.URL, geo.WithSharedLimiter(lim)).Resolve(context.Background(), "Paris")
	require.Equal(t, "FR", got.Code)
}
