/**
 * @description
 * This file provides a client for the external billing service to retrieve a
 * user's subscription snapshot, and the checkout URL builder used when a
 * request is denied for lack of a valid subscription.
 */
package billingclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transfa/access-service/internal/domain"
)

// ErrSubscriptionNotFound is returned when the billing service answers 404:
// the user has no subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const maxBodyBytes = 1 << 20

// Client provides methods to interact with the billing service.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  string
	httpClient *http.Client
}

// NewClient creates a new billing service client.
func NewClient(baseURL, apiKey, projectID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		projectID:  projectID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetSubscription retrieves the subscription snapshot for userID.
// A 404 yields ErrSubscriptionNotFound; any other non-200 status is an error.
func (c *Client) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}

	endpoint := fmt.Sprintf("%s/checkout/%s/subscription/%s",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call billing service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSubscriptionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("billing service returned status %d", resp.StatusCode)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !sub.Status.Known() {
		return nil, fmt.Errorf("billing service returned unknown status %q", sub.Status)
	}

	return &sub, nil
}

// CheckoutParams identifies who is checking out and, optionally, which plan.
type CheckoutParams struct {
	UserID string
	Email  string
	Name   string
	PlanID string
}

// CheckoutURLBuilder builds hosted checkout links for the billing frontend.
type CheckoutURLBuilder struct {
	frontendURL string
	apiKey      string
}

func NewCheckoutURLBuilder(frontendURL, apiKey string) CheckoutURLBuilder {
	return CheckoutURLBuilder{frontendURL: strings.TrimSuffix(frontendURL, "/"), apiKey: apiKey}
}

// Build returns {frontendURL}/checkout?apiKey=..&userId=..&email=..[&name=..][&planId=..].
// Parameters always appear in that order and empty optional ones are left out,
// so the same input always yields the same string.
func (b CheckoutURLBuilder) Build(p CheckoutParams) string {
	var q strings.Builder
	appendParam := func(key, value string) {
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(key)
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(value))
	}

	appendParam("apiKey", b.apiKey)
	appendParam("userId", p.UserID)
	appendParam("email", p.Email)
	if p.Name != "" {
		appendParam("name", p.Name)
	}
	if p.PlanID != "" {
		appendParam("planId", p.PlanID)
	}

	return b.frontendURL + "/checkout?" + q.String()
}
