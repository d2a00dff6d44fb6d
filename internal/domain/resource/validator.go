package resource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	apperrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/utils"
)

// Kind classifies an accepted resource.
type Kind string

const (
	KindHTTP Kind = "http"
	KindFile Kind = "file"
)

// 拒绝原因，对外展示在 details.reason
const (
	ReasonMissingHost       = "Missing host in URL"
	ReasonUnsafeAddress     = "URL points to a private or unsafe address"
	ReasonFileDenied        = "File access denied or path invalid"
	ReasonUnsupportedScheme = "Unsupported URL scheme"
	ReasonMalformed         = "Malformed URL"
)

// ErrInvalidResource matches every rejection produced by Outcome.Err.
var ErrInvalidResource = errors.New("invalid resource")

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Outcome is the result of validating one input string.
type Outcome struct {
	OK     bool
	Reason string
	Kind   Kind
	// Path is the symlink-resolved absolute path approved for file inputs.
	Path string
	// URL is the parsed http(s) URL.
	URL *url.URL
}

type rejection struct{ reason string }

func (r *rejection) Error() string        { return r.reason }
func (r *rejection) Is(target error) bool { return target == ErrInvalidResource }

// Err converts a rejected outcome into a validation error, nil when OK.
func (o Outcome) Err() error {
	if o.OK {
		return nil
	}
	return apperrors.Wrap(apperrors.KindValidation, "resource.validate", "invalid resource", &rejection{reason: o.Reason})
}

func reject(reason string) Outcome {
	return Outcome{OK: false, Reason: reason}
}

var windowsDrive = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// IsPathLike reports whether input is a bare filesystem path rather than a URL.
func IsPathLike(input string) bool {
	return strings.HasPrefix(input, "/") || strings.HasPrefix(input, `\`) || windowsDrive.MatchString(input)
}

// Validator decides whether an input may be fetched.
type Validator struct {
	resolver Resolver
	roots    []string
	logger   *utils.Logger
}

type Option func(*Validator)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) {
		if r != nil {
			v.resolver = r
		}
	}
}

// WithLogger sets the logger used for rejection diagnostics.
func WithLogger(l *utils.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewValidator builds a validator for the given filesystem allow-list.
// Roots that cannot be resolved are dropped.
func NewValidator(roots []string, opts ...Option) *Validator {
	v := &Validator{
		resolver: net.DefaultResolver,
		logger:   utils.DefaultLogger,
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, root := range roots {
		resolved, err := canonical(root)
		if err != nil {
			v.logger.WarnTag("校验", "忽略无效的允许目录 %s: %v", root, err)
			continue
		}
		v.roots = append(v.roots, resolved)
	}
	return v
}

// Roots returns the resolved allow-list.
func (v *Validator) Roots() []string {
	return append([]string(nil), v.roots...)
}

// Validate classifies and checks input. It never performs a fetch.
func (v *Validator) Validate(ctx context.Context, input string) Outcome {
	input = strings.TrimSpace(input)
	if input == "" {
		return reject(ReasonMalformed)
	}

	if IsPathLike(input) {
		return v.checkFile(input)
	}

	u, err := url.Parse(input)
	if err != nil {
		v.logger.DebugTag("校验", "URL 解析失败 %q: %v", input, err)
		return reject(ReasonMalformed)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		host := u.Hostname()
		if host == "" {
			return reject(ReasonMissingHost)
		}
		if err := v.CheckHost(ctx, host); err != nil {
			v.logger.WarnTag("校验", "拒绝主机 %s: %v", host, err)
			return reject(ReasonUnsafeAddress)
		}
		return Outcome{OK: true, Kind: KindHTTP, URL: u}
	case "file":
		if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
			return reject(ReasonFileDenied)
		}
		return v.checkFile(fileURLPath(u))
	default:
		return reject(ReasonUnsupportedScheme)
	}
}

// CheckHost resolves host and fails if any address is blocked or the
// lookup fails. Literal IPs are checked without DNS.
func (v *Validator) CheckHost(ctx context.Context, host string) error {
	host = strings.Trim(host, "[]")
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("blocked address %s", addr)
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return fmt.Errorf("%s resolves to blocked address %s", host, a.IP)
		}
	}
	return nil
}

func fileURLPath(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	// file:///C:/x 的路径形如 /C:/x
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && windowsDrive.MatchString(p[1:]) {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

func (v *Validator) checkFile(path string) Outcome {
	resolved, err := canonical(path)
	if err != nil {
		v.logger.DebugTag("校验", "路径解析失败 %s: %v", path, err)
		return reject(ReasonFileDenied)
	}
	if !v.withinRoots(resolved) {
		v.logger.WarnTag("校验", "路径不在允许目录内: %s", resolved)
		return reject(ReasonFileDenied)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return reject(ReasonFileDenied)
	}
	return Outcome{OK: true, Kind: KindFile, Path: resolved}
}

func (v *Validator) withinRoots(path string) bool {
	for _, root := range v.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
