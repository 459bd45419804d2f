// Package catalog resolves catalog record ids to product identities through the
// catalog manager service.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/httpclient"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

var productIDRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,37}$`)

type findRequest struct {
	ID uuid.UUID `json:"id"`
}

type record struct {
	Metadata *struct {
		ProductID   string            `json:"productId"`
		ProductType model.ProductType `json:"productType"`
	} `json:"metadata"`
}

type Client struct {
	base    string
	hc      *http.Client
	retries int
	backoff time.Duration
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithRetries sets how many times a transport error or 5xx is retried.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.backoff = backoff
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    baseURL,
		retries: 2,
		backoff: 200 * time.Millisecond,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.hc == nil {
		c.hc = httpclient.NewOutbound()
	}
	return c
}

// Product returns the product id and type of the single layer registered under id.
func (c *Client) Product(ctx context.Context, id uuid.UUID) (string, model.ProductType, error) {
	recs, err := c.find(ctx, id)
	if err != nil {
		return "", "", err
	}
	if len(recs) != 1 {
		return "", "", errs.Errorf(errs.ErrNotFound, "catalog find", id.String(),
			"expected exactly one catalog layer, got %d", len(recs))
	}
	md := recs[0].Metadata
	switch {
	case md == nil:
		return "", "", fmt.Errorf("catalog find %s: layer is missing metadata", id)
	case !productIDRe.MatchString(md.ProductID):
		return "", "", fmt.Errorf("catalog find %s: layer has invalid product id %q", id, md.ProductID)
	case !md.ProductType.Valid():
		return "", "", fmt.Errorf("catalog find %s: layer has invalid product type %q", id, md.ProductType)
	}
	return md.ProductID, md.ProductType, nil
}

func (c *Client) find(ctx context.Context, id uuid.UUID) ([]record, error) {
	body, err := json.Marshal(findRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("catalog find: encode: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.WarnContext(ctx, "retrying catalog find", "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("catalog find %s: %w", id, ctx.Err())
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		recs, retry, err := c.post(ctx, body)
		if err == nil {
			return recs, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("catalog find %s: %w", id, lastErr)
}

// post performs one exchange and reports whether a failure is worth retrying.
func (c *Client) post(ctx context.Context, body []byte) ([]record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/records/find", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, true, fmt.Errorf("catalog manager status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return []record{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("catalog manager status %d", resp.StatusCode)
	}

	var recs []record
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&recs); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return recs, false, nil
}
