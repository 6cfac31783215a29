package source

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
	"github.com/yungbote/fooddata-graph/internal/platform/awss3"
	"github.com/yungbote/fooddata-graph/internal/platform/gcp"
)

// Opener returns the raw byte stream behind a parsed location.
type Opener func(ctx context.Context, u *url.URL) (io.ReadCloser, error)

type Options struct {
	Selector   string
	HTTPClient *http.Client
	// Openers override the built-in handlers, keyed by URL scheme
	// ("file", "http", "https", "s3", "gs").
	Openers map[string]Opener
	// TempDir receives remote zip archives while they are read.
	TempDir string
}

// Open resolves loc (a path, "-", or an http(s)/s3/gs URL), unwraps .gz and
// .zip payloads, and positions a Reader on the record array.
func Open(ctx context.Context, loc string, opts Options) (*Reader, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, importerr.New(importerr.SourceUnavailable, "open_source", "no source location given")
	}

	var (
		rc  io.ReadCloser
		err error
		u   *url.URL
	)
	if loc == "-" {
		rc = io.NopCloser(os.Stdin)
		u = &url.URL{Scheme: "file", Path: "-"}
	} else {
		u, err = parseLocation(loc)
		if err != nil {
			return nil, importerr.Wrap(importerr.SourceUnavailable, "open_source", "invalid location", err)
		}
		opener, ok := opts.Openers[u.Scheme]
		if !ok {
			opener, ok = defaultOpener(u.Scheme, opts)
		}
		if !ok {
			return nil, importerr.New(importerr.SourceUnavailable, "open_source", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
		rc, err = opener(ctx, u)
		if err != nil {
			return nil, importerr.Wrap(importerr.SourceUnavailable, "open_source", fmt.Sprintf("cannot open %s", loc), err)
		}
	}

	closers := []io.Closer{rc}
	body, extra, err := unwrapPayload(ctx, u, rc, opts.TempDir)
	closers = append(closers, extra...)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	r, err := NewReader(body, opts.Selector)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	r.closers = closers
	return r, nil
}

func parseLocation(loc string) (*url.URL, error) {
	if !strings.Contains(loc, "://") {
		return &url.URL{Scheme: "file", Path: loc}, nil
	}
	u, err := url.Parse(loc)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "file" && u.Path == "" {
		u.Path = u.Host
	}
	return u, nil
}

func defaultOpener(scheme string, opts Options) (Opener, bool) {
	switch scheme {
	case "file":
		return openFile, true
	case "http", "https":
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Minute}
		}
		return httpOpener(client), true
	case "s3":
		return openS3, true
	case "gs":
		return openGCS, true
	default:
		return nil, false
	}
}

func openFile(_ context.Context, u *url.URL) (io.ReadCloser, error) {
	return os.Open(u.Path)
}

func httpOpener(client *http.Client) Opener {
	return func(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("GET %s: status %d", u.Redacted(), resp.StatusCode)
		}
		return resp.Body, nil
	}
}

func openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	r, err := awss3.New(ctx, awss3.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	return r.Open(ctx, u.Host, u.Path)
}

func openGCS(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	r, err := gcp.NewObjectReader(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := r.Open(ctx, u.Host, u.Path)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return &chainCloser{ReadCloser: rc, after: r}, nil
}

// chainCloser closes a client once the stream it produced is closed.
type chainCloser struct {
	io.ReadCloser
	after io.Closer
}

func (c *chainCloser) Close() error {
	err := c.ReadCloser.Close()
	if aerr := c.after.Close(); err == nil {
		err = aerr
	}
	return err
}

// unwrapPayload decompresses by file extension. Closers it returns must be
// closed after the payload is consumed.
func unwrapPayload(ctx context.Context, u *url.URL, rc io.ReadCloser, tempDir string) (io.Reader, []io.Closer, error) {
	name := strings.ToLower(path.Base(u.Path))
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, nil, importerr.Wrap(importerr.MalformedDocument, "open_source", "invalid gzip stream", err)
		}
		return gz, []io.Closer{gz}, nil
	case strings.HasSuffix(name, ".zip"):
		return openZip(ctx, u, rc, tempDir)
	default:
		return rc, nil, nil
	}
}

func openZip(_ context.Context, u *url.URL, rc io.ReadCloser, tempDir string) (io.Reader, []io.Closer, error) {
	archivePath := u.Path
	var closers []io.Closer
	if u.Scheme != "file" {
		tmp, err := os.CreateTemp(tempDir, "fdc-source-*.zip")
		if err != nil {
			return nil, nil, importerr.Wrap(importerr.SourceUnavailable, "spool_zip", "cannot create temp file", err)
		}
		closers = append(closers, removeOnClose(tmp.Name()))
		if _, err := io.Copy(tmp, rc); err != nil {
			_ = tmp.Close()
			closeAll(closers)
			return nil, nil, importerr.Wrap(importerr.SourceUnavailable, "spool_zip", "download interrupted", err)
		}
		if err := tmp.Close(); err != nil {
			closeAll(closers)
			return nil, nil, importerr.Wrap(importerr.SourceUnavailable, "spool_zip", "cannot write temp file", err)
		}
		archivePath = tmp.Name()
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		closeAll(closers)
		return nil, nil, importerr.Wrap(importerr.MalformedDocument, "open_zip", "invalid zip archive", err)
	}
	closers = append(closers, zr)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		entry, err := f.Open()
		if err != nil {
			closeAll(closers)
			return nil, nil, importerr.Wrap(importerr.MalformedDocument, "open_zip", fmt.Sprintf("cannot read %s", f.Name), err)
		}
		// Closed in reverse: entry, archive, then the spooled temp file.
		return entry, append(closers, entry), nil
	}
	closeAll(closers)
	return nil, nil, importerr.New(importerr.MalformedDocument, "open_zip", "zip archive has no .json entry")
}

type removeOnClose string

func (p removeOnClose) Close() error { return os.Remove(string(p)) }

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
