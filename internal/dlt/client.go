// Package dlt talks to the distributed ledger API: it registers ownership
// transfer proofs and looks up the ledger roles of a user.
package dlt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/devicehub/server/internal/model"
)

const (
	requestTimeout = 10 * time.Second
	rolesTTL       = 5 * time.Minute
	maxRetries     = 3
)

// ErrRejected is returned when the ledger answers but does not accept the request.
var ErrRejected = errors.New("dlt: request rejected")

// Client is a rate limited client of the ledger API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	roles   *cache.Cache
	backoff time.Duration
	logger  *logrus.Logger
}

// NewClient creates a client allowing perSecond requests per second.
func NewClient(baseURL, token string, perSecond float64, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		roles:   cache.New(rolesTTL, 2*rolesTTL),
		backoff: 200 * time.Millisecond,
		logger:  logger,
	}
}

// envelope is the response shape of every ledger endpoint.
type envelope struct {
	Status int `json:"Status"`
	Data   struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	} `json:"Data"`
}

func (e *envelope) ok() bool {
	return e.Status == http.StatusOK && strings.Contains(e.Data.Status, "Success")
}

type proofRequest struct {
	Type     string `json:"type"`
	Device   int64  `json:"device"`
	Action   string `json:"action"`
	Supplier string `json:"supplier"`
	Receiver string `json:"receiver"`
}

// RegisterProof records a transfer proof on the ledger and returns its hash.
func (c *Client) RegisterProof(ctx context.Context, p model.ProofTransfer) (string, error) {
	body := proofRequest{
		Type:     "ProofTransfer",
		Device:   p.DeviceID,
		Action:   p.ActionID.String(),
		Supplier: p.SupplierID.String(),
		Receiver: p.ReceiverID.String(),
	}

	env, err := c.call(ctx, "/registerProof", body)
	if err != nil {
		return "", err
	}

	var data struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(env.Data.Data, &data); err != nil || data.Hash == "" {
		return "", fmt.Errorf("%w: no hash in response", ErrRejected)
	}
	return data.Hash, nil
}

// UserRoles returns the ledger roles granted to email, sorted. Answers are
// cached for a few minutes.
func (c *Client) UserRoles(ctx context.Context, email string) ([]string, error) {
	if cached, found := c.roles.Get(email); found {
		return cached.([]string), nil
	}

	env, err := c.call(ctx, "/checkUserRoles", map[string]string{"email": email})
	if err != nil {
		return nil, err
	}

	var granted map[string]bool
	if len(env.Data.Data) > 0 {
		if err := json.Unmarshal(env.Data.Data, &granted); err != nil {
			return nil, fmt.Errorf("dlt: decode roles: %w", err)
		}
	}
	roles := make([]string, 0, len(granted))
	for role, ok := range granted {
		if ok {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)

	c.roles.Set(email, roles, cache.DefaultExpiration)
	return roles, nil
}

// call posts body to path, retrying transport failures and 5xx answers.
func (c *Client) call(ctx context.Context, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("dlt: encode request: %w", err)
	}

	var env envelope
	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.WithError(err).WithField("path", path).Warn("dlt request failed, retrying")
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("dlt: %s returned %d", path, resp.StatusCode))
		}

		env = envelope{}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("dlt: decode response: %w", err)
		}
		if !env.ok() {
			return fmt.Errorf("%w: %s status %d %q", ErrRejected, path, env.Status, env.Data.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}
