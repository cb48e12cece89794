package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewFillsDefaults(t *testing.T) {
	t.Parallel()

	c := New(&Config{UserAgent: "agent"})
	ua, ok := c.Transport.(*userAgentTransport)
	if !ok {
		t.Fatalf("expected *userAgentTransport, got %T", c.Transport)
	}
	tr, ok := ua.base.(*http.Transport)
	if !ok || tr == nil {
		t.Fatalf("expected *http.Transport, got %T", ua.base)
	}
	if tr.MaxIdleConns == 0 || tr.MaxIdleConnsPerHost == 0 {
		t.Fatalf("expected pool limits defaulted, got %d/%d", tr.MaxIdleConns, tr.MaxIdleConnsPerHost)
	}
	if c.Timeout == 0 {
		t.Fatalf("expected request timeout defaulted")
	}
}

func TestUserAgentIsSetUnlessPresent(t *testing.T) {
	t.Parallel()

	got := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := New(DefaultConfig("Mozilla/5.0 test"))

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if ua := <-got; ua != "Mozilla/5.0 test" {
		t.Fatalf("User-Agent = %q", ua)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "explicit")
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if ua := <-got; ua != "explicit" {
		t.Fatalf("explicit User-Agent overridden: %q", ua)
	}
}

func TestInitHTTPClientReplacesSharedClient(t *testing.T) {
	InitHTTPClient(DefaultConfig("first"))
	first := GetHTTPClient()
	InitHTTPClient(DefaultConfig("second"))
	second := GetHTTPClient()

	if first == second {
		t.Fatalf("expected a new shared client after reconfiguration")
	}
	if ua := second.Transport.(*userAgentTransport).userAgent; ua != "second" {
		t.Fatalf("shared client user agent = %q", ua)
	}
}
