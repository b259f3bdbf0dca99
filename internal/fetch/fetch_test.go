package fetch

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenLocalPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.json")
	if err := os.WriteFile(path, []byte(`{"in_network": []}`), 0o644); err != nil {
		t.Fatal(err)
	}

	in, err := Open(context.Background(), path, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	if in.Name != "rates.json" {
		t.Errorf("Name = %q", in.Name)
	}
	if in.Size != 18 {
		t.Errorf("Size = %d", in.Size)
	}
	got, err := io.ReadAll(in)
	if err != nil || string(got) != `{"in_network": []}` {
		t.Errorf("read %q, %v", got, err)
	}
}

func TestOpenLocalGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.json.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(`{"provider_references": []}`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	for _, stdGzip := range []bool{false, true} {
		in, err := Open(context.Background(), path, stdGzip, nil)
		if err != nil {
			t.Fatalf("stdGzip=%v: %v", stdGzip, err)
		}
		got, err := io.ReadAll(in)
		if err != nil || string(got) != `{"provider_references": []}` {
			t.Errorf("stdGzip=%v read %q, %v", stdGzip, got, err)
		}
		if err := in.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
}

func TestOpenURLRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"version": "1"}`)
	}))
	defer srv.Close()

	var progressed bool
	in, err := Open(context.Background(), srv.URL+"/file.json", false, func(done, total int64) {
		progressed = true
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(in)
	if err != nil || string(got) != `{"version": "1"}` {
		t.Errorf("read %q, %v", got, err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if calls != 2 {
		t.Errorf("server called %d times, want a retry after the 502", calls)
	}
	if !progressed {
		t.Errorf("progress callback never fired")
	}
}

func TestOpenURLClientErrorNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Open(context.Background(), srv.URL+"/missing.json", false, nil); err == nil {
		t.Fatal("want error for 404")
	}
	if calls != 1 {
		t.Errorf("server called %d times, want no retry on 404", calls)
	}
}

func TestNameFromURL(t *testing.T) {
	got := nameFromURL("https://cdn.example.com/2026-08/rates.json.gz?Expires=123&Signature=abc")
	if got != "rates.json.gz" {
		t.Errorf("nameFromURL = %q", got)
	}
}
