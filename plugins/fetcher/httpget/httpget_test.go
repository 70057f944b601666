package httpget

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"babiload/pkg/contract"
)

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" || r.Header.Get("X-Token") != "t" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("tarball"))
	}))
	defer srv.Close()
	f := New(&Options{UserAgent: "test-agent", ExtraHeaders: map[string]string{"X-Token": "t"}})
	var buf bytes.Buffer
	n, err := f.Fetch(context.Background(), srv.URL+"/a.tar.gz", &buf)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != 7 || buf.String() != "tarball" {
		t.Fatalf("got n=%d body=%q", n, buf.String())
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	var buf bytes.Buffer
	_, err := New(nil).Fetch(context.Background(), srv.URL, &buf)
	if err == nil {
		t.Fatalf("404 should fail")
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		t.Fatalf("4xx should not be a network error")
	}
}

func TestFetchServerErrorIsNetError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	var buf bytes.Buffer
	_, err := New(nil).Fetch(context.Background(), srv.URL, &buf)
	var nerr net.Error
	if !errors.As(err, &nerr) {
		t.Fatalf("5xx should map to net.Error, got %v", err)
	}
}

func TestFetchCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if _, err := New(nil).Fetch(ctx, srv.URL, &buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled, got %v", err)
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	var buf bytes.Buffer
	if _, err := New(nil).Fetch(context.Background(), "ftp://x/y", &buf); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect invalid input, got %v", err)
	}
}
