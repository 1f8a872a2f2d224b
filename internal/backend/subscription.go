package backend

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/farmdash/internal/entities"
)

// DefaultPlanCacheTTL is how long the plan catalogue is served from memory.
const DefaultPlanCacheTTL = time.Hour

const plansCacheKey = "plans"

// SubscriptionClient talks to the subscription service. The plan catalogue
// changes rarely and is cached.
type SubscriptionClient struct {
	c     *Client
	cache *cache.Cache
}

// NewSubscriptionClient wraps a Client configured for the subscription service.
// A zero planTTL uses DefaultPlanCacheTTL.
func NewSubscriptionClient(c *Client, planTTL time.Duration) *SubscriptionClient {
	if planTTL == 0 {
		planTTL = DefaultPlanCacheTTL
	}
	return &SubscriptionClient{
		c:     c,
		cache: cache.New(planTTL, planTTL*2),
	}
}

// Plans returns the plan catalogue.
func (s *SubscriptionClient) Plans(ctx context.Context) ([]entities.Plan, error) {
	if cached, found := s.cache.Get(plansCacheKey); found {
		if plans, ok := cached.([]entities.Plan); ok {
			s.recordCache("hit")
			return slices.Clone(plans), nil
		}
	}
	s.recordCache("miss")

	var plans []entities.Plan
	if err := s.c.getJSON(ctx, "/plans", nil, &plans); err != nil {
		return nil, err
	}
	s.cache.SetDefault(plansCacheKey, slices.Clone(plans))
	return plans, nil
}

// InvalidatePlans drops the cached catalogue.
func (s *SubscriptionClient) InvalidatePlans() {
	s.cache.Delete(plansCacheKey)
}

// CreatePayPalOrder starts a PayPal checkout for a plan.
func (s *SubscriptionClient) CreatePayPalOrder(ctx context.Context, profileID, planID string) (*entities.PaymentOrder, error) {
	body := map[string]string{"profileId": profileID, "planId": planID}
	var out entities.PaymentOrder
	if err := s.c.doJSON(ctx, http.MethodPost, "/payments/paypal/create", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyPayPalPayment confirms a completed PayPal checkout.
func (s *SubscriptionClient) VerifyPayPalPayment(ctx context.Context, orderID string) (*entities.PaymentOrder, error) {
	body := map[string]string{"orderId": orderID}
	var out entities.PaymentOrder
	if err := s.c.doJSON(ctx, http.MethodPost, "/payments/paypal/verify", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Usage returns the profile's consumption against its plan.
func (s *SubscriptionClient) Usage(ctx context.Context, profileID string) (*entities.UsageLimits, error) {
	var out entities.UsageLimits
	if err := s.c.getJSON(ctx, "/usage/"+escape(profileID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SubscriptionClient) recordCache(result string) {
	if s.c.metrics != nil {
		s.c.metrics.RecordCache(s.c.service, result)
	}
}
