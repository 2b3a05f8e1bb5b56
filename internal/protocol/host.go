package protocol

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
)

const (
	MimeHTML       = "text/html"
	MimeJavaScript = "text/javascript"

	defaultCharset = "utf-8"
	scriptPath     = "/code.js"
)

//go:embed static/index.html
var defaultBootstrap []byte

// ScriptSource supplies the user-authored script for an instance.
type ScriptSource interface {
	ActiveScriptBody(ctx context.Context, instanceID string) (string, error)
}

// Config configures a Host
type Config struct {
	Scheme        string
	AssetsDir     string
	BootstrapPath string // empty serves the embedded document
}

// Response is the content served for a request
type Response struct {
	MimeType string
	Charset  string
	Data     []byte
}

// ContentType renders the response's Content-Type header value.
func (r *Response) ContentType() string {
	return mime.FormatMediaType(r.MimeType, map[string]string{"charset": r.Charset})
}

// Host answers requests for the virtual scheme.
type Host struct {
	scheme    string
	assetsDir string
	bootstrap []byte
	scripts   ScriptSource
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewHost creates a host. The assets directory is made absolute and
// symlink-resolved once here; a missing directory only logs, so every asset
// lookup misses until it exists.
func NewHost(cfg Config, scripts ScriptSource, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		return nil, errors.New("scheme is required")
	}
	if cfg.AssetsDir == "" {
		return nil, errors.New("assets directory is required")
	}

	assetsDir, err := filepath.Abs(cfg.AssetsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assets directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(assetsDir); err == nil {
		assetsDir = resolved
	} else {
		logger.Warn("assets directory unavailable", zap.String("dir", assetsDir), zap.Error(err))
	}

	bootstrap := defaultBootstrap
	if cfg.BootstrapPath != "" {
		bootstrap, err = os.ReadFile(cfg.BootstrapPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read bootstrap document: %w", err)
		}
		if err := checkBootstrap(bootstrap); err != nil {
			logger.Warn("bootstrap document may not start the worker",
				zap.String("path", cfg.BootstrapPath),
				zap.Error(err),
			)
		}
	}

	return &Host{
		scheme:    cfg.Scheme,
		assetsDir: assetsDir,
		bootstrap: bootstrap,
		scripts:   scripts,
		logger:    logger,
	}, nil
}

// WithMetrics attaches a metrics collector
func (h *Host) WithMetrics(metrics *monitoring.Metrics) *Host {
	h.metrics = metrics
	return h
}

// Scheme returns the scheme this host answers for
func (h *Host) Scheme() string {
	return h.scheme
}

// AssetsDir returns the canonical assets directory
func (h *Host) AssetsDir() string {
	return h.assetsDir
}

// URL builds a request URL for an instance and path on this host's scheme.
func (h *Host) URL(instanceID, p string) string {
	u := url.URL{Scheme: h.scheme, Host: instanceID, Path: path.Clean("/" + p)}
	return u.String()
}

// Serve answers a request URL on the virtual scheme.
func (h *Host) Serve(ctx context.Context, requestURL string) (*Response, error) {
	route := "asset"
	resp, err := h.serve(ctx, requestURL, &route)
	if h.metrics != nil {
		h.metrics.RecordProtocolRequest(route, outcome(err))
	}
	return resp, err
}

func (h *Host) serve(ctx context.Context, requestURL string, route *string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != h.scheme || u.Opaque != "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, requestURL)
	}

	// u.Path is already decoded, so encoded separators become real ones
	// and are cleaned away with the rest
	cleaned := path.Clean("/" + u.Path)

	switch cleaned {
	case "/", "/index.html":
		*route = "bootstrap"
		return &Response{
			MimeType: MimeHTML,
			Charset:  detectCharset(h.bootstrap),
			Data:     h.bootstrap,
		}, nil
	case scriptPath:
		*route = "script"
		return h.serveScript(ctx, u.Host)
	default:
		return h.serveAsset(ctx, cleaned)
	}
}

func (h *Host) serveScript(ctx context.Context, instanceID string) (*Response, error) {
	if h.scripts == nil || instanceID == "" {
		h.logger.Warn("no active script", zap.String("instance", instanceID))
		return nil, fmt.Errorf("%w: instance %q", ErrScriptNotFound, instanceID)
	}

	body, err := h.scripts.ActiveScriptBody(ctx, instanceID)
	if err != nil {
		h.logger.Warn("failed to load active script",
			zap.String("instance", instanceID),
			zap.Error(err),
		)
		return nil, err
	}

	data := []byte(body)
	return &Response{
		MimeType: MimeJavaScript,
		Charset:  detectCharset(data),
		Data:     data,
	}, nil
}

func (h *Host) serveAsset(ctx context.Context, cleaned string) (*Response, error) {
	full, err := h.resolveAsset(cleaned)
	if err != nil {
		h.logger.Warn("asset rejected", zap.String("path", cleaned), zap.Error(err))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		h.logger.Error("failed to read asset", zap.String("path", full), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAssetRead, err)
	}

	return &Response{
		MimeType: MimeJavaScript,
		Charset:  detectCharset(data),
		Data:     data,
	}, nil
}

// resolveAsset maps a cleaned request path to a regular file inside the
// assets directory. Only the basename is used, and the canonical result
// must still sit inside the directory.
func (h *Host) resolveAsset(cleaned string) (string, error) {
	name := path.Base(cleaned)
	if name == "/" || name == "." || name == ".." || strings.ContainsAny(name, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrAssetNotFound, cleaned)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(h.assetsDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrAssetNotFound, name)
		}
		return "", fmt.Errorf("%w: %v", ErrAssetRead, err)
	}

	if !within(h.assetsDir, resolved) {
		return "", fmt.Errorf("%w: %q resolves outside the assets directory", ErrAssetNotFound, name)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssetRead, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a file", ErrAssetNotFound, name)
	}

	return resolved, nil
}

func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// detectCharset reads the charset from the detected content type
func detectCharset(data []byte) string {
	if len(data) == 0 || utf8.Valid(data) {
		return defaultCharset
	}
	if result, err := chardet.NewTextDetector().DetectBest(data); err == nil && result != nil && result.Charset != "" {
		return strings.ToLower(result.Charset)
	}
	detected := mimetype.Detect(data)
	if _, params, err := mime.ParseMediaType(detected.String()); err == nil {
		if charset := params["charset"]; charset != "" {
			return charset
		}
	}
	return defaultCharset
}
