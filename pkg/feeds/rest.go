package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/version"
)

const (
	// TypeREST polls an HTTP endpoint per instrument.
	TypeREST = "rest"

	defaultPollInterval = 5 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
	defaultRateLimit    = 10.0 // requests per second
	maxResponseBytes    = 1 << 20
)

func init() {
	Register(TypeREST, NewRESTAdapter)
}

// RESTAdapter polls a URL template for each configured instrument. The
// template's {symbol} placeholder is replaced by the upstream symbol.
type RESTAdapter struct {
	*BaseAdapter
	url       string
	interval  time.Duration
	headers   map[string]string
	extractor Extractor
	limiter   *rate.Limiter
	client    *http.Client
}

var _ Adapter = (*RESTAdapter)(nil)

// NewRESTAdapter creates a polling adapter from its config block.
func NewRESTAdapter(cfg config.FeedConfig, sub Submitter, logger *logging.Logger) (Adapter, error) {
	url := cfg.GetString("url", "")
	if url == "" {
		return nil, ErrURLRequired
	}
	symbols, err := ParseSymbols(cfg.Config)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(cfg.Config)
	if err != nil {
		return nil, err
	}

	rps := cfg.GetFloat("rate_limit", defaultRateLimit)
	burst := cfg.GetInt("burst", 1)

	return &RESTAdapter{
		BaseAdapter: NewBaseAdapter(cfg.Name, TypeREST, symbols, sub, logger),
		url:         url,
		interval:    cfg.GetDuration("interval", defaultPollInterval),
		headers:     cfg.GetStringMap("headers"),
		extractor:   extractor,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		client:      &http.Client{Timeout: cfg.GetDuration("timeout", defaultHTTPTimeout)},
	}, nil
}

// Run polls immediately and then every interval until ctx is done.
func (a *RESTAdapter) Run(ctx context.Context) error {
	a.Logger().Info("Starting REST feed", "instruments", len(a.symbols), "interval", a.interval.String())

	a.pollAll(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollAll(ctx)
		}
	}
}

func (a *RESTAdapter) pollAll(ctx context.Context) {
	failures := 0
	for _, id := range a.Instruments() {
		if err := a.poll(ctx, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			a.Logger().Warn("Failed to fetch quote", "instrument", id, "error", err)
		}
	}
	a.SetHealthy(failures < len(a.symbols))
}

func (a *RESTAdapter) poll(ctx context.Context, instrumentID string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	url := strings.ReplaceAll(a.url, "{symbol}", a.Symbol(instrumentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.AgentString())
	req.Header.Set("Accept", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	price, err := a.extractor.Price(body)
	if err != nil {
		return err
	}
	observedAt, err := a.extractor.ObservedAt(body, time.Now())
	if err != nil {
		return err
	}
	return a.Submit(instrumentID, price, observedAt)
}
