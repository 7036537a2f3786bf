package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/pkg/backoff"
)

const probeAttempts = 2

// ProbeResult is what a link probe observed. Err is set when no definitive answer was
// obtained; it never aborts the caller.
type ProbeResult struct {
	StatusCode *int
	Accessible bool
	Permission models.AccessPermission
	Attempts   int
	Duration   time.Duration
	Err        error
}

// LinkProberConfig tunes timeouts, retries and the per-host breakers.
type LinkProberConfig struct {
	Timeout         time.Duration
	RetryBackoff    time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
	UserAgent       string
	MaxRedirects    int
}

// LinkProber checks whether document links are reachable without an authenticated session.
type LinkProber struct {
	cfg    LinkProberConfig
	client *http.Client
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewLinkProber constructs a prober with a shared HTTP client.
func NewLinkProber(cfg LinkProberConfig, logger *zap.Logger) *LinkProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "va-hybrid-link-check/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &LinkProber{cfg: cfg, client: client, logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Probe runs at most two attempts, each bounded by the configured timeout.
func (p *LinkProber) Probe(ctx context.Context, rawURL string) ProbeResult {
	start := time.Now()
	result := ProbeResult{Permission: models.AccessUnknown}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		result.Err = fmt.Errorf("invalid url: %q", rawURL)
		result.Duration = time.Since(start)
		return result
	}
	breaker := p.breaker(strings.ToLower(parsed.Hostname()))

	var status int
	result.Err = backoff.Retry(ctx, probeAttempts, p.cfg.RetryBackoff, func(int) (bool, error) {
		result.Attempts++
		status = 0
		out, err := breaker.Execute(func() (interface{}, error) {
			code, err := p.attempt(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
				return code, fmt.Errorf("upstream responded %d", code)
			}
			return code, nil
		})
		if code, ok := out.(int); ok {
			status = code
		}
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return false, fmt.Errorf("host %s temporarily skipped: %w", parsed.Hostname(), err)
			}
			return ctx.Err() == nil, err
		}
		return false, nil
	})

	if status != 0 {
		code := status
		result.StatusCode = &code
	}
	result.Accessible, result.Permission = classifyStatus(status)
	if result.Err != nil {
		result.Accessible = false
		if result.Permission == models.AccessPublic {
			result.Permission = models.AccessUnknown
		}
	}
	result.Duration = time.Since(start)
	return result
}

// MaxDuration is the longest a link check can take: every attempt may issue HEAD and a GET fallback,
// each up to the timeout, plus the backoff between attempts.
func (p *LinkProber) MaxDuration() time.Duration {
	total := time.Duration(probeAttempts) * 2 * p.cfg.Timeout
	for attempt := 0; attempt < probeAttempts-1; attempt++ {
		total += backoff.Exponential(p.cfg.RetryBackoff, attempt)
	}
	return total
}

func (p *LinkProber) attempt(ctx context.Context, rawURL string) (int, error) {
	code, err := p.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return 0, err
	}
	if code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented {
		return p.do(ctx, http.MethodGet, rawURL)
	}
	return code, nil
}

func (p *LinkProber) do(ctx context.Context, method, rawURL string) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *LinkProber) breaker(host string) *gobreaker.CircuitBreaker {
	p.mu.RLock()
	cb, ok := p.breakers[host]
	p.mu.RUnlock()
	if ok {
		return cb
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok = p.breakers[host]; ok {
		return cb
	}
	failures := uint32(p.cfg.BreakerFailures)
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "probe-" + host,
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Info("probe breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	p.breakers[host] = cb
	return cb
}

// classifyStatus maps an HTTP status to accessibility: 2xx/3xx public, 401/403 restricted.
func classifyStatus(code int) (bool, models.AccessPermission) {
	switch {
	case code >= 200 && code < 400:
		return true, models.AccessPublic
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return false, models.AccessRestricted
	default:
		return false, models.AccessUnknown
	}
}
