package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngine serves a minimal scripted control API. Routes not in the map
// get a 404.
func newEngine(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/router/rtp-capabilities", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"codecs":[{"mimeType":"audio/opus"}]}`))
	})
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), ClientConfig{Endpoint: srv.URL, Token: "engine-token", Timeout: time.Second}, discardLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientFetchesRouterCapabilities(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"codecs":[]}`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	if string(c.RouterRTPCapabilities()) != `{"codecs":[]}` {
		t.Errorf("RouterRTPCapabilities() = %s", c.RouterRTPCapabilities())
	}
	if gotAuth != "Bearer engine-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestNewClientFailsWhenEngineIsDown(t *testing.T) {
	cfg := ClientConfig{Endpoint: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond}
	if _, err := NewClient(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("NewClient succeeded against a dead engine")
	}
}

func TestCreateAndConnectTransport(t *testing.T) {
	srv := newEngine(t, map[string]http.HandlerFunc{
		"/transports": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"transportId":"t1","iceParameters":{"usernameFragment":"uf"},"iceCandidates":[],"dtlsParameters":{"role":"auto"}}`))
		},
		"/transports/t1/connect": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	c := newTestClient(t, srv)

	info, err := c.CreateTransport(context.Background())
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if info.ID != "t1" || len(info.ICEParameters) == 0 {
		t.Fatalf("info = %+v", info)
	}
	if err := c.ConnectTransport(context.Background(), "t1", []byte(`{"role":"client"}`)); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
}

func TestNotFoundMapsToLocalErrors(t *testing.T) {
	srv := newEngine(t, nil) // every entity route 404s
	c := newTestClient(t, srv)
	ctx := context.Background()

	if err := c.ConnectTransport(ctx, "ghost", nil); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("ConnectTransport err = %v, want ErrTransportNotFound", err)
	}
	if _, err := c.Consume(ctx, "ghost", "p1", nil); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("Consume err = %v, want ErrTransportNotFound", err)
	}
	if _, err := c.ProducerCodec("ghost"); !errors.Is(err, ErrProducerNotFound) {
		t.Errorf("ProducerCodec err = %v, want ErrProducerNotFound", err)
	}
	if err := c.CloseTransport("ghost"); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("CloseTransport err = %v, want ErrTransportNotFound", err)
	}
}

func TestNotFoundOffEntityPathsIsNotASentinel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	// The engine 404ing its own capability endpoint is an engine fault,
	// not a lost transport or producer.
	_, err := NewClient(context.Background(), ClientConfig{Endpoint: srv.URL, Timeout: time.Second}, discardLogger())
	if err == nil {
		t.Fatal("NewClient succeeded against a 404ing engine")
	}
	if errors.Is(err, ErrTransportNotFound) || errors.Is(err, ErrProducerNotFound) {
		t.Fatalf("capability 404 mapped onto an entity sentinel: %v", err)
	}
}

func TestConsumeRejectionMapsToNotConsumable(t *testing.T) {
	srv := newEngine(t, map[string]http.HandlerFunc{
		"/transports/t1/consumers": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "capabilities mismatch", http.StatusUnprocessableEntity)
		},
	})
	c := newTestClient(t, srv)

	if _, err := c.Consume(context.Background(), "t1", "p1", nil); !errors.Is(err, ErrNotConsumable) {
		t.Fatalf("Consume err = %v, want ErrNotConsumable", err)
	}
}

func TestCanConsumeTreatsEngineErrorsAsNo(t *testing.T) {
	calls := 0
	srv := newEngine(t, map[string]http.HandlerFunc{
		"/producers/p1/can-consume": func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"consumable":true}`))
		},
	})
	c := newTestClient(t, srv)

	if c.CanConsume("p1", nil) {
		t.Error("CanConsume returned true on engine error")
	}
	if !c.CanConsume("p1", nil) {
		t.Error("CanConsume returned false on consumable=true")
	}
}

func TestWatchInvokesOnFatalAfterThreeFailures(t *testing.T) {
	healthy := make(chan bool, 16)
	srv := newEngine(t, map[string]http.HandlerFunc{
		"/healthz": func(w http.ResponseWriter, r *http.Request) {
			if <-healthy {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	c := newTestClient(t, srv)

	// One healthy probe resets the counter, then three failures trip it.
	healthy <- true
	healthy <- false
	healthy <- false
	healthy <- false

	fatal := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.Watch(ctx, 5*time.Millisecond, func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		if err == nil {
			t.Fatal("onFatal called with nil error")
		}
	case <-ctx.Done():
		t.Fatal("onFatal never called")
	}
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	srv := newEngine(t, map[string]http.HandlerFunc{
		"/healthz": func(w http.ResponseWriter, r *http.Request) {},
	})
	c := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, 50*time.Millisecond, func(error) { t.Error("onFatal called on healthy engine") })
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
