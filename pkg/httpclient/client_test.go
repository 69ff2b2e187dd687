package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(retries int) *Client {
	return New(WithMaxRetries(retries), WithBaseDelay(time.Millisecond))
}

func TestDoSuccessFirstTry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(3).Do(mustRequest(t, server.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(3).Do(mustRequest(t, server.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	resp, err := newTestClient(3).Do(mustRequest(t, server.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (no retries on 400)", hits)
	}
}

func TestDoRateLimitExhaustion(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp, err := newTestClient(2).Do(mustRequest(t, server.URL))
	if resp != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if hits != 3 {
		t.Errorf("hits = %d, want initial try plus 2 retries", hits)
	}

	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("err = %T", err)
	}
	if !re.RateLimit || !re.Exhausted {
		t.Errorf("error flags = %+v", re)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited must report true")
	}
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	var hits int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"input": "text"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := newTestClient(2).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != bodies[1] {
		t.Errorf("bodies = %q, want the same payload twice", bodies)
	}
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Cancel while the client would otherwise back off.
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	client := New(WithMaxRetries(3), WithBaseDelay(time.Minute))
	start := time.Now()
	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled request took %v, backoff was not interrupted", elapsed)
	}
}

func TestDoCancelledBeforeRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected on a cancelled context")
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(WithMaxRetries(3), WithBaseDelay(time.Minute)).Do(req); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsRateLimitedOnOtherErrors(t *testing.T) {
	if IsRateLimited(errors.New("plain")) {
		t.Error("plain errors are not rate limits")
	}
	if IsRateLimited(&RetryableError{StatusCode: 503}) {
		t.Error("transient errors are not rate limits")
	}
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}
