package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Presupuestos al 60% de los límites documentados, para dejar margen
	// a los bursts de descubrimiento cuando hay jornada completa de NBA.
	// CLOB /books: 500/10s → 30/s. Gamma /markets: 300/10s → 18/s.
	// CLOB general: 9000/10s → 540/s.
	booksRatePerSec   = 30
	gammaRatePerSec   = 18
	generalRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client habla con las dos APIs de Polymarket (CLOB y Gamma) aplicando
// rate limiting por endpoint y reintentos con backoff. Los moneylines de
// NBA llegan por Gamma; books, precios y órdenes por el CLOB.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient construye un Client; con bases vacías apunta a producción.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// get ejecuta un GET y decodifica la respuesta JSON en out.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.do(ctx, limiter, http.MethodGet, url, nil, out)
}

// post serializa body como JSON y decodifica la respuesta en out.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("polymarket: marshal body: %w", err)
	}
	return c.do(ctx, limiter, http.MethodPost, url, payload, out)
}

// do es el loop compartido de request: espera su turno en el limiter,
// reintenta 429s y 5xx, y corta en el primer 4xx.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, method, url string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("polymarket: rate limiter: %w", err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("polymarket: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			slog.Warn("polymarket: throttled", "url", url, "attempt", attempt+1)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			detail, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("polymarket: %s %s: status %d: %s", method, url, resp.StatusCode, detail)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("polymarket: %s %s: decode: %w", method, url, err)
		}
		return nil
	}
	return fmt.Errorf("polymarket: %s %s: gave up after %d retries: %w", method, url, maxRetries, lastErr)
}

// sleep aplica backoff exponencial acotado por el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := baseRetryWait << attempt
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
