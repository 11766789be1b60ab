// Package linkpreview fetches a page and extracts the title, description and
// image a chat client shows under a pasted link.
package linkpreview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/apperr"
	"github.com/4xmen/karu/internal/cache"
)

const (
	userAgent    = "Mozilla/5.0 (compatible; KaruBot/1.0)"
	cachePrefix  = "link_preview:"
	maxRedirects = 3
)

var errBlockedAddress = errors.New("address not allowed")

type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	CacheTTL     time.Duration
	// AllowPrivate permits loopback, private and link-local targets.
	AllowPrivate bool
}

type Fetcher struct {
	client *http.Client
	cache  cache.Cache
	conf   Config
	log    *zap.Logger
}

func New(kv cache.Cache, conf Config, log *zap.Logger) *Fetcher {
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	if conf.MaxBodyBytes <= 0 {
		conf.MaxBodyBytes = 1 << 20
	}

	dialer := &net.Dialer{Timeout: conf.Timeout}
	if !conf.AllowPrivate {
		dialer.Control = guardAddress
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   conf.Timeout,
		ResponseHeaderTimeout: conf.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: tr,
			Timeout:   conf.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return checkScheme(req.URL)
			},
		},
		cache: kv,
		conf:  conf,
		log:   log,
	}
}

// guardAddress runs after DNS resolution, so a hostname pointing at an
// internal address is refused as well as a literal one.
func guardAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return errBlockedAddress
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return errBlockedAddress
	}
	return nil
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// Fetch returns the preview for rawURL, serving repeats from the cache.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || checkScheme(u) != nil {
		return nil, apperr.InvalidArg("url must be an absolute http or https URL")
	}

	key := cacheKey(rawURL)
	if p, ok := f.cached(ctx, key); ok {
		return p, nil
	}

	p, err := f.fetch(ctx, u)
	if err != nil {
		if errors.Is(err, errBlockedAddress) {
			return nil, apperr.InvalidArg("url points at a disallowed address")
		}
		return nil, apperr.Wrap(apperr.CodeUnavailable, "could not fetch link preview", err)
	}
	p.URL = rawURL
	f.store(ctx, key, p)
	return p, nil
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL) (*Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return &Preview{}, nil
	}
	p := parse(io.LimitReader(resp.Body, f.conf.MaxBodyBytes), resp.Request.URL)
	return &p, nil
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return cachePrefix + hex.EncodeToString(sum[:])
}

func (f *Fetcher) cached(ctx context.Context, key string) (*Preview, bool) {
	if f.cache == nil || f.conf.CacheTTL <= 0 {
		return nil, false
	}
	raw, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			f.log.Debug("link preview cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var p Preview
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (f *Fetcher) store(ctx context.Context, key string, p *Preview) {
	if f.cache == nil || f.conf.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, key, string(raw), f.conf.CacheTTL); err != nil {
		f.log.Debug("link preview cache write failed", zap.Error(err))
	}
}
