// Package enrich resolves the best-effort client attributes attached to a
// fraud check: public IP, timezone, locale and the device fingerprint.
// Nothing here returns an error to the caller; failures degrade to nil.
package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shortontech/fraudsignal/internal/metrics"
	"github.com/shortontech/fraudsignal/internal/traces"
)

// DefaultLookupURL is the third-party IP echo endpoint.
const DefaultLookupURL = "https://ipapi.co/json/"

const (
	defaultLookupTimeout = 3 * time.Second
	maxLookupBody        = 64 << 10
	cacheKeyPrefix       = "fraudsignal:public_ip:"
)

// DefaultCacheKey scopes the cached IP to this host, so hosts sharing one
// Redis behind different egress addresses never read each other's entry.
func DefaultCacheKey() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return cacheKeyPrefix + host
}

// Resolver looks up the public IP and reads platform attributes.
type Resolver struct {
	LookupURL string
	Client    *http.Client
	Timeout   time.Duration

	// Cache, when set, holds the last successful lookup for TTL under
	// CacheKey. Hosts that set the same CacheKey must share an egress IP.
	Cache    IPCache
	TTL      time.Duration
	CacheKey string

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	group singleflight.Group
}

// NewResolver returns a resolver with default endpoint and timeout.
func NewResolver() *Resolver {
	return &Resolver{
		LookupURL: DefaultLookupURL,
		Client:    &http.Client{},
		Timeout:   defaultLookupTimeout,
		CacheKey:  DefaultCacheKey(),
	}
}

func (r *Resolver) cacheKey() string {
	if r.CacheKey != "" {
		return r.CacheKey
	}
	return DefaultCacheKey()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// PublicIP returns the client's public IP, or nil if the lookup fails in
// any way: transport error, non-2xx status, malformed body, or a missing
// or non-string "ip" field. Concurrent callers share one request, which
// runs detached from any single caller's cancellation; a caller whose ctx
// ends first gets nil without cutting the lookup short for the others.
func (r *Resolver) PublicIP(ctx context.Context) *string {
	key := r.cacheKey()
	if r.Cache != nil {
		if ip, ok := r.Cache.Get(ctx, key); ok && ip != "" {
			return &ip
		}
	}

	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan("ip", func() (any, error) {
		ip := r.lookup(shared)
		if ip != "" && r.Cache != nil {
			r.Cache.Set(shared, key, ip, r.TTL)
		}
		return ip, nil
	})

	var ip string
	select {
	case res := <-ch:
		ip, _ = res.Val.(string)
	case <-ctx.Done():
		r.logger().Debug("ip lookup abandoned by caller", "error", ctx.Err())
	}
	if ip == "" {
		r.Metrics.IncrementEnrichmentFailure("ip")
		return nil
	}
	return &ip
}

func (r *Resolver) lookup(ctx context.Context) string {
	url := r.LookupURL
	if url == "" {
		url = DefaultLookupURL
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, span := traces.StartSpan(ctx, "fraudcheck.ip_lookup", traces.Endpoint(url))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger().Debug("ip lookup: bad request", "error", err)
		return ""
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		r.logger().Debug("ip lookup failed", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger().Debug("ip lookup: non-success status", "status", resp.StatusCode)
		return ""
	}

	var body struct {
		IP json.RawMessage `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLookupBody)).Decode(&body); err != nil {
		r.logger().Debug("ip lookup: malformed body", "error", err)
		return ""
	}
	var ip string
	if err := json.Unmarshal(body.IP, &ip); err != nil {
		r.logger().Debug("ip lookup: ip field missing or not a string")
		return ""
	}
	return strings.TrimSpace(ip)
}
