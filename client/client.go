// Package client consumes rowstream's streaming routes. Rows are decoded
// from an NDJSON body one at a time and handed out through a
// pipeline.Iterator, so a consumer holds at most one window in memory:
//
//	it, err := client.Entities(ctx, "http://localhost:8080", "/entities/sql")
//	if err != nil {
//	    return err
//	}
//	err = pipeline.Drain(pipeline.Batch(pipeline.From(it), 10, 0), writeWindow).Run(ctx)
package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/valyala/fastjson"

	"github.com/kbukum/rowstream/entity"
	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/pipeline"
	"github.com/kbukum/rowstream/resilience"
	"github.com/kbukum/rowstream/server"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client requests streams from a rowstream server.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	return &Client{
		// No client timeout: the context ends a stream.
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
	}, nil
}

// Entities opens route on the server at baseURL and returns its rows.
func Entities(ctx context.Context, baseURL, route string) (pipeline.Iterator[entity.Dto], error) {
	c, err := New(Config{BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	return c.Entities(ctx, route)
}

// Entities opens an entity streaming route.
func (c *Client) Entities(ctx context.Context, route string) (pipeline.Iterator[entity.Dto], error) {
	return Stream(ctx, c, route, DecodeDto)
}

// Stream opens route as NDJSON and returns an iterator decoding each line
// with decode. Opening fails with the server's AppError when it answers
// with an error status. Closing the iterator closes the body, which
// cancels the stream on the server.
func Stream[T any](ctx context.Context, c *Client, route string, decode DecodeFunc[T]) (pipeline.Iterator[T], error) {
	target, err := c.url(route)
	if err != nil {
		return nil, err
	}

	open := func() (*http.Response, error) { return c.open(ctx, target) }
	var resp *http.Response
	if c.config.Retry != nil {
		resp, err = resilience.Retry(ctx, *c.config.Retry, open)
	} else {
		resp, err = open()
	}
	if err != nil {
		return nil, err
	}
	return newLineIterator(resp, decode), nil
}

func (c *Client) url(route string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(route, "/"))
	if err != nil {
		return "", apperrors.InvalidInput("route", err.Error())
	}
	q := u.Query()
	if q.Get("format") == "" {
		q.Set("format", string(server.FormatNDJSON))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) open(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.InvalidInput("route", err.Error())
	}
	req.Header.Set("Accept", server.ContentTypeNDJSON)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.New(apperrors.ErrCodeConnectionFailed,
			"Could not reach the stream server.", http.StatusBadGateway).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errorFromBody(resp.StatusCode, body)
	}
	return resp, nil
}

// IsRetryable reports whether err is an AppError the server marked
// retryable.
func IsRetryable(err error) bool {
	appErr, ok := apperrors.As(err)
	return ok && appErr.Retryable
}

// errorFromBody rebuilds the server's AppError from an error response.
func errorFromBody(status int, body []byte) *apperrors.AppError {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil || !v.Exists("error", "code") {
		return apperrors.FromStatus(status)
	}
	return decodeError(v.Get("error"), status)
}

func decodeError(v *fastjson.Value, status int) *apperrors.AppError {
	body := apperrors.ErrorBody{
		Code:      apperrors.ErrorCode(v.GetStringBytes("code")),
		Message:   string(v.GetStringBytes("message")),
		Retryable: v.GetBool("retryable"),
	}
	if d := v.GetObject("details"); d != nil {
		body.Details = make(map[string]any, d.Len())
		d.Visit(func(key []byte, dv *fastjson.Value) {
			switch dv.Type() {
			case fastjson.TypeNumber:
				body.Details[string(key)] = dv.GetInt64()
			case fastjson.TypeString:
				body.Details[string(key)] = string(dv.GetStringBytes())
			default:
				body.Details[string(key)] = dv.String()
			}
		})
	}
	return body.AppError(status)
}

// closeOnce closes a response body once.
type closeOnce struct {
	once sync.Once
	body io.Closer
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() { c.err = c.body.Close() })
	return c.err
}
