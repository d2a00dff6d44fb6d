package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"syscall"
	"time"

	"image-sage-server-go/internal/domain/resource"
	apperrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/utils"
)

const userAgent = "image-sage-mcp/1.0"

var (
	// ErrFetch matches every error returned by Fetcher.Fetch after validation.
	ErrFetch = errors.New("fetch failed")
	// ErrTooLarge is returned when the payload exceeds the size limit.
	ErrTooLarge = errors.New("image too large")
)

// FetchMessage is the caller-facing message for fetch failures.
const FetchMessage = "Unable to fetch or read image"

type fetchFailure struct{ err error }

func (f *fetchFailure) Error() string        { return f.err.Error() }
func (f *fetchFailure) Unwrap() error        { return f.err }
func (f *fetchFailure) Is(target error) bool { return target == ErrFetch }

func fetchError(op string, err error) error {
	return apperrors.Wrap(apperrors.KindFetch, op, FetchMessage, &fetchFailure{err: err})
}

// HostChecker re-validates hosts reached through redirects.
type HostChecker interface {
	CheckHost(ctx context.Context, host string) error
}

// Fetcher reads validated resources into memory with a hard size bound.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	timeout      time.Duration
	maxRedirects int
	hosts        HostChecker
	formats      *FormatValidator
	logger       *utils.Logger
}

type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client. Its redirect policy is replaced
// by the fetcher's own.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			copied := *c
			f.client = &copied
		}
	}
}

// WithHostChecker sets the policy used for redirect targets.
func WithHostChecker(h HostChecker) FetcherOption {
	return func(f *Fetcher) { f.hosts = h }
}

// WithMaxRedirects caps the number of redirects followed.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRedirects = n
		}
	}
}

// WithAllowedFormats narrows the accepted formats.
func WithAllowedFormats(formats []string) FetcherOption {
	return func(f *Fetcher) { f.formats = NewFormatValidator(formats, f.logger) }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *utils.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
			if f.formats != nil {
				f.formats.logger = l
			}
		}
	}
}

// NewFetcher creates a fetcher bounded by maxBytes and timeout.
func NewFetcher(maxBytes int64, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		maxBytes:     maxBytes,
		timeout:      timeout,
		maxRedirects: 5,
		logger:       utils.DefaultLogger,
	}
	f.formats = NewFormatValidator(nil, f.logger)
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Transport: GuardedTransport(timeout)}
	}
	f.client.CheckRedirect = f.checkRedirect
	return f
}

// GuardedTransport returns a transport that refuses to connect to blocked
// addresses, whatever DNS returned when the URL was validated.
func GuardedTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("dial %s: %w", address, err)
			}
			if resource.IsBlockedAddr(addr) {
				return fmt.Errorf("connection to blocked address %s refused", addr)
			}
			return nil
		},
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.maxRedirects {
		return fmt.Errorf("stopped after %d redirects", f.maxRedirects)
	}
	switch req.URL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
	}
	if f.hosts != nil {
		if err := f.hosts.CheckHost(req.Context(), req.URL.Hostname()); err != nil {
			f.logger.WarnTag("获取", "重定向目标被拒绝 %s: %v", req.URL.Host, err)
			return fmt.Errorf("redirect to %s rejected: %v", req.URL.Host, err)
		}
	}
	return nil
}

// Fetch reads the resource approved by outcome. A rejected outcome is
// returned as its validation error without any I/O.
func (f *Fetcher) Fetch(ctx context.Context, input string, outcome resource.Outcome) (*FetchedImage, error) {
	if !outcome.OK {
		return nil, outcome.Err()
	}

	var (
		img *FetchedImage
		err error
	)
	switch outcome.Kind {
	case resource.KindHTTP:
		img, err = f.fetchHTTP(ctx, outcome.URL.String())
	case resource.KindFile:
		img, err = f.fetchFile(outcome.Path)
	default:
		return nil, fetchError("image.fetch", fmt.Errorf("unknown resource kind %q", outcome.Kind))
	}
	if err != nil {
		return nil, err
	}
	img.Source = input
	return img, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*FetchedImage, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fetchError("image.fetch.http", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchError("image.fetch.http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchError("image.fetch.http", fmt.Errorf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fetchError("image.fetch.http", fmt.Errorf("%w: content-length %d exceeds %d bytes", ErrTooLarge, resp.ContentLength, f.maxBytes))
	}

	data, err := readBounded(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fetchError("image.fetch.http", err)
	}

	img, err := f.formats.Inspect(data, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fetchError("image.fetch.http", err)
	}
	f.logger.DebugTag("获取", "下载完成: url=%s size=%d elapsed=%s", rawURL, img.Size, time.Since(start))
	return img, nil
}

func (f *Fetcher) fetchFile(path string) (*FetchedImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fetchError("image.fetch.file", err)
	}
	if info.Size() > f.maxBytes {
		return nil, fetchError("image.fetch.file", fmt.Errorf("%w: %d exceeds %d bytes", ErrTooLarge, info.Size(), f.maxBytes))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fetchError("image.fetch.file", err)
	}
	defer file.Close()

	data, err := readBounded(file, f.maxBytes)
	if err != nil {
		return nil, fetchError("image.fetch.file", err)
	}

	img, err := f.formats.Inspect(data, "")
	if err != nil {
		return nil, fetchError("image.fetch.file", err)
	}
	return img, nil
}

// readBounded reads at most limit bytes and fails as soon as one more byte
// is available.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	limited := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read image bytes: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
