package main

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestServeHTTPForwardsBindFailure(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1"}
	errCh := make(chan error, 1)

	go serveHTTP(srv, errCh)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("nil error forwarded")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bind failure was not forwarded")
	}
}

func TestServeHTTPIgnoresGracefulClose(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}
	errCh := make(chan error, 1)

	go serveHTTP(srv, errCh)

	// Let the listener come up, then shut down cleanly.
	time.Sleep(100 * time.Millisecond)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("graceful close forwarded as error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}
