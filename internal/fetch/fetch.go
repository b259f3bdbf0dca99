// Package fetch opens rate files for streaming, whether they live on disk
// or behind an HTTP URL, gzipped or plain. The decompressed bytes flow
// straight to the caller; nothing is staged on disk.
package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	},
	Timeout: 3 * time.Hour, // large files at slow CDN speeds can take over an hour
}

// Input is an open rate file ready for streaming. Read returns decompressed
// bytes. Close verifies the full compressed payload arrived before releasing
// the underlying handles.
type Input struct {
	io.Reader

	// Name is a short human-readable label for the input.
	Name string
	// Size is the compressed (or on-disk) byte size, -1 when unknown.
	Size int64

	closers []io.Closer
	count   *countingReader
	expect  int64
}

// Close releases the input, reporting truncated transfers as an error.
func (in *Input) Close() error {
	var err error
	for _, c := range in.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil && in.expect > 0 && in.count != nil && in.count.n != in.expect {
		err = fmt.Errorf("transfer truncated: got %d of %d bytes", in.count.n, in.expect)
	}
	return err
}

// Open prepares target for streaming. Targets beginning with http:// or
// https:// are downloaded with retries; anything else is a local path.
// Targets ending in .gz are decompressed transparently, with pgzip unless
// stdGzip forces the single-threaded standard decoder. onProgress, if
// non-nil, receives raw byte counts as the transfer advances.
func Open(ctx context.Context, target string, stdGzip bool, onProgress func(done, total int64)) (*Input, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return openURL(ctx, target, stdGzip, onProgress)
	}
	return openFile(target, stdGzip, onProgress)
}

func openFile(path string, stdGzip bool, onProgress func(done, total int64)) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	size := int64(-1)
	if info, serr := f.Stat(); serr == nil {
		size = info.Size()
	}

	in := &Input{Name: filepath.Base(path), Size: size, closers: []io.Closer{f}}
	var r io.Reader = f
	if onProgress != nil {
		r = &progressReader{reader: r, total: size, callback: onProgress}
	}
	if err := in.finish(r, path, stdGzip); err != nil {
		f.Close()
		return nil, err
	}
	return in, nil
}

func openURL(ctx context.Context, url string, stdGzip bool, onProgress func(done, total int64)) (*Input, error) {
	resp, err := download(ctx, url)
	if err != nil {
		return nil, err
	}

	in := &Input{
		Name:    nameFromURL(url),
		Size:    resp.ContentLength,
		closers: []io.Closer{resp.Body},
		expect:  resp.ContentLength,
	}
	var r io.Reader = resp.Body
	if onProgress != nil {
		r = &progressReader{reader: r, total: resp.ContentLength, callback: onProgress}
	}
	in.count = &countingReader{reader: r}
	if err := in.finish(in.count, url, stdGzip); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return in, nil
}

// finish installs the gzip layer when the target name calls for one.
func (in *Input) finish(r io.Reader, target string, stdGzip bool) error {
	if !strings.HasSuffix(pathPortion(target), ".gz") {
		in.Reader = r
		return nil
	}
	gz, err := newGzipReader(r, stdGzip)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	in.Reader = gz
	in.closers = append([]io.Closer{gz}, in.closers...)
	return nil
}

// newGzipReader picks the decompressor. pgzip is parallel and much faster;
// the standard library decoder is the fallback when pgzip misbehaves on a
// particular file.
func newGzipReader(r io.Reader, useStdGzip bool) (io.ReadCloser, error) {
	if useStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

// download performs an HTTP GET with exponential backoff. Client errors are
// not retried.
func download(ctx context.Context, url string) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, "GET", url, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("creating request: %w", reqErr)
		}

		resp, err = httpClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, err
		}
	}

	return nil, fmt.Errorf("download failed after retries: %w", err)
}

func pathPortion(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

func nameFromURL(url string) string {
	return filepath.Base(pathPortion(url))
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.n += int64(n)
	return n, err
}

type progressReader struct {
	reader   io.Reader
	done     int64
	total    int64
	callback func(done, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.done += int64(n)
		pr.callback(pr.done, pr.total)
	}
	return n, err
}
