// Package practicum fetches homework review statuses from the Practicum API.
package practicum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/homework-notifier/internal/constants"
	"github.com/ubuntu/homework-notifier/internal/review"
)

// Client queries the homework statuses endpoint.
type Client struct {
	endpoint string
	http     *resty.Client
}

type options struct {
	endpoint string
	timeout  time.Duration
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// WithEndpoint overrides the homework statuses endpoint.
func WithEndpoint(url string) Options {
	return func(o *options) {
		o.endpoint = url
	}
}

// WithTimeout sets the timeout of a single request.
func WithTimeout(d time.Duration) Options {
	return func(o *options) {
		o.timeout = d
	}
}

// New returns a Client authenticating with the given OAuth token.
func New(token string, args ...Options) *Client {
	opts := options{
		endpoint: constants.DefaultEndpoint,
		timeout:  constants.DefaultRequestTimeout,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Client{
		endpoint: opts.endpoint,
		http: resty.New().
			SetTimeout(opts.timeout).
			SetHeader("Accept", "application/json").
			SetAuthScheme("OAuth").
			SetAuthToken(token),
	}
}

// Fetch returns the decoded payload of the statuses changed since from, in unix seconds.
//
// Failures wrap a review.GlobalError: review.Unreachable when the service could not be
// reached, review.StatusCode when it answered with a non-OK status, and review.WrongType
// when the body is not JSON.
func (c Client) Fetch(ctx context.Context, from int64) (payload any, err error) {
	defer decorate.OnError(&err, "could not fetch homework statuses")

	slog.Debug("Fetching homework statuses", "endpoint", c.endpoint, "from_date", from)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("from_date", strconv.FormatInt(from, 10)).
		Get(c.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", review.Unreachable, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", review.StatusCode, resp.Status())
	}

	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", review.WrongType, err)
	}
	return payload, nil
}
