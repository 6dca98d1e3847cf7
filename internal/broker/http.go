package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

// HTTPGateway talks to the brokerage REST API. All calls pass through a token
// bucket so bursts of per-symbol evaluation can't trip provider rate limits.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGateway creates a rate-limited brokerage client.
func NewHTTPGateway(baseURL string, timeout time.Duration, perSecond float64, burst int) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (g *HTTPGateway) GetAccount(ctx context.Context) (Account, error) {
	var a Account
	if err := g.getJSON(ctx, "/v2/account", nil, &a); err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	if err := validateAccount(a); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (g *HTTPGateway) GetPositions(ctx context.Context) ([]Position, error) {
	var ps []Position
	if err := g.getJSON(ctx, "/v2/positions", nil, &ps); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	for _, p := range ps {
		if err := validatePosition(p); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}
	var res OrderResult
	if err := g.do(ctx, http.MethodPost, "/v2/orders", bytes.NewReader(body), &res); err != nil {
		return OrderResult{}, fmt.Errorf("create order %s %s: %w", req.Side, req.Symbol, err)
	}
	if res.ID == "" || res.Status == "" {
		return OrderResult{}, fmt.Errorf("%w: order ack missing id/status", ErrBadPayload)
	}
	return res, nil
}

func (g *HTTPGateway) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]marketdata.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	var bars []marketdata.Bar
	if err := g.getJSON(ctx, "/v2/bars", q, &bars); err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}
	for i := range bars {
		if bars[i].Symbol == "" {
			bars[i].Symbol = symbol
		}
		if err := validateBar(bars[i]); err != nil {
			return nil, err
		}
	}
	return bars, nil
}

func (g *HTTPGateway) GetLatestQuote(ctx context.Context, symbol string) (Quote, error) {
	var qt Quote
	if err := g.getJSON(ctx, "/v2/quotes/"+url.PathEscape(symbol)+"/latest", nil, &qt); err != nil {
		return Quote{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}
	if qt.Symbol == "" {
		qt.Symbol = symbol
	}
	if err := validateQuote(qt); err != nil {
		return Quote{}, err
	}
	return qt, nil
}

func (g *HTTPGateway) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return g.do(ctx, http.MethodGet, p, nil, out)
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brokerage returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
