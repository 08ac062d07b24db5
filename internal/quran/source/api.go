package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hifzlab/tasmee/internal/quran"
)

const (
	// defaultBaseURL is the alquran.cloud REST API.
	defaultBaseURL = "https://api.alquran.cloud/v1"

	defaultTimeout = 15 * time.Second
)

// APIOption is a functional option for configuring an [API] source.
type APIOption func(*API)

// WithBaseURL overrides the alquran.cloud base URL, e.g. for a mirror or a
// test server.
func WithBaseURL(baseURL string) APIOption {
	return func(a *API) { a.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets a custom HTTP client. Defaults to a client with a
// 15-second timeout.
func WithHTTPClient(client *http.Client) APIOption {
	return func(a *API) { a.client = client }
}

// WithTimeout sets the request timeout on the default HTTP client. Ignored
// when WithHTTPClient is also given.
func WithTimeout(d time.Duration) APIOption {
	return func(a *API) { a.timeout = d }
}

// API serves canonical text from the alquran.cloud REST API. Surahs are
// fetched whole on first use and cached for the lifetime of the source, so
// repeated sessions over the same passage hit the network once. Concurrent
// first requests for the same surah share a single upstream fetch, and after
// repeated upstream failures the source fails fast with [ErrUnavailable]
// until a probe fetch succeeds.
type API struct {
	baseURL string
	client  *http.Client
	timeout time.Duration

	group   singleflight.Group
	breaker *breaker

	mu    sync.RWMutex
	cache map[int][]quran.Ayah
}

var _ Source = (*API)(nil)

// NewAPI creates an alquran.cloud source.
func NewAPI(opts ...APIOption) *API {
	a := &API{
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
		breaker: newBreaker(breakerMaxFailures, breakerRetryAfter),
		cache:   make(map[int][]quran.Ayah),
	}
	for _, o := range opts {
		o(a)
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: a.timeout}
	}
	return a
}

// Ayahs implements [Source], fetching the surah on cache miss.
func (a *API) Ayahs(ctx context.Context, surah, from, to int) ([]quran.Ayah, error) {
	a.mu.RLock()
	ayahs, ok := a.cache[surah]
	a.mu.RUnlock()

	if !ok {
		v, err, _ := a.group.Do(strconv.Itoa(surah), func() (any, error) {
			if !a.breaker.allow() {
				return nil, fmt.Errorf("source: surah %d: %w", surah, ErrUnavailable)
			}
			fetched, err := a.fetchSurah(ctx, surah)
			a.breaker.report(err)
			if err != nil {
				return nil, err
			}
			a.mu.Lock()
			a.cache[surah] = fetched
			a.mu.Unlock()
			return fetched, nil
		})
		if err != nil {
			return nil, err
		}
		ayahs = v.([]quran.Ayah)
	}

	return sliceRange(surah, ayahs, from, to)
}

// ─── wire format ────────────────────────────────────────────────────────────

// apiResponse is the alquran.cloud envelope. On errors (e.g. surah out of
// range) Data is a string, so it is only decoded for successful responses.
type apiResponse struct {
	Code   int      `json:"code"`
	Status string   `json:"status"`
	Data   apiSurah `json:"data"`
}

type apiSurah struct {
	Number        int       `json:"number"`
	EnglishName   string    `json:"englishName"`
	NumberOfAyahs int       `json:"numberOfAyahs"`
	Ayahs         []apiAyah `json:"ayahs"`
}

type apiAyah struct {
	NumberInSurah int    `json:"numberInSurah"`
	Text          string `json:"text"`
}

func (a *API) fetchSurah(ctx context.Context, surah int) ([]quran.Ayah, error) {
	url := fmt.Sprintf("%s/surah/%d", a.baseURL, surah)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch surah %d: %w", surah, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("source: surah %d: %w", surah, quran.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("source: fetch surah %d: status %d: %s",
			surah, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("source: decode surah %d response: %w", surah, err)
	}
	if decoded.Code != http.StatusOK || decoded.Status != "OK" {
		return nil, fmt.Errorf("source: fetch surah %d: api status %q (code %d)",
			surah, decoded.Status, decoded.Code)
	}
	if len(decoded.Data.Ayahs) == 0 {
		return nil, fmt.Errorf("source: surah %d response contains no ayahs", surah)
	}

	ayahs := make([]quran.Ayah, len(decoded.Data.Ayahs))
	for i, ayah := range decoded.Data.Ayahs {
		ayahs[i] = quran.Ayah{Surah: decoded.Data.Number, Number: ayah.NumberInSurah, Text: ayah.Text}
	}
	return ayahs, nil
}
