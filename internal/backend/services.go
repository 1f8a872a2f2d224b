package backend

import (
	"time"
)

// Service names, used in logs, metrics and configuration keys.
const (
	ServiceDetection    = "detection"
	ServiceTreatment    = "treatment"
	ServiceUser         = "user"
	ServiceNotification = "notification"
	ServiceSubscription = "subscription"
)

// ServicesConfig holds the base URL of every service and the shared client settings.
type ServicesConfig struct {
	DetectionURL    string
	TreatmentURL    string
	UserURL         string
	NotificationURL string
	SubscriptionURL string

	Timeout      time.Duration
	RateLimit    float64
	Burst        int
	PlanCacheTTL time.Duration
}

// Services bundles one client per backing service.
type Services struct {
	Detection    *DetectionClient
	Treatment    *TreatmentClient
	User         *UserClient
	Notification *NotificationClient
	Subscription *SubscriptionClient
}

// NewServices builds every service client with the same options.
func NewServices(cfg ServicesConfig, opts ...ClientOption) (*Services, error) {
	build := func(service, baseURL string) (*Client, error) {
		return NewClient(service, Config{
			BaseURL:   baseURL,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}, opts...)
	}

	detection, err := build(ServiceDetection, cfg.DetectionURL)
	if err != nil {
		return nil, err
	}
	treatment, err := build(ServiceTreatment, cfg.TreatmentURL)
	if err != nil {
		return nil, err
	}
	user, err := build(ServiceUser, cfg.UserURL)
	if err != nil {
		return nil, err
	}
	notification, err := build(ServiceNotification, cfg.NotificationURL)
	if err != nil {
		return nil, err
	}
	subscription, err := build(ServiceSubscription, cfg.SubscriptionURL)
	if err != nil {
		return nil, err
	}

	return &Services{
		Detection:    NewDetectionClient(detection),
		Treatment:    NewTreatmentClient(treatment),
		User:         NewUserClient(user),
		Notification: NewNotificationClient(notification),
		Subscription: NewSubscriptionClient(subscription, cfg.PlanCacheTTL),
	}, nil
}
