package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gerizimschools-star/netsafi-iam/internal/infra/config"
)

// Provider holds the security counters exposed at /metrics.
type Provider struct {
	signInAttempts *prometheus.CounterVec
	accountLocks   prometheus.Counter
	otpIssued      *prometheus.CounterVec
	passwordResets *prometheus.CounterVec
}

// Attach registers the security metrics and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	namespace := cfg.Telemetry.MetricsNamespace
	if namespace == "" {
		namespace = "netsafi_iam"
	}

	return &Provider{
		signInAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_in_attempts_total",
			Help:      "Total sign-in attempts partitioned by principal kind and outcome",
		}, []string{"kind", "outcome"}),
		accountLocks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_locks_total",
			Help:      "Total accounts locked after repeated failed sign-ins",
		}),
		otpIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_issued_total",
			Help:      "Total one-time passwords issued partitioned by purpose and delivery method",
		}, []string{"purpose", "delivery"}),
		passwordResets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Total password resets partitioned by source",
		}, []string{"source"}),
	}, nil
}

// RecordSignIn increments the sign-in attempt counter.
func (p *Provider) RecordSignIn(kind, outcome string) {
	if p == nil {
		return
	}
	p.signInAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordAccountLock increments the lockout counter.
func (p *Provider) RecordAccountLock() {
	if p == nil {
		return
	}
	p.accountLocks.Inc()
}

// RecordOTPIssued increments the OTP issuance counter.
func (p *Provider) RecordOTPIssued(purpose, delivery string) {
	if p == nil {
		return
	}
	p.otpIssued.WithLabelValues(purpose, delivery).Inc()
}

// RecordPasswordReset increments the password reset counter.
func (p *Provider) RecordPasswordReset(source string) {
	if p == nil {
		return
	}
	p.passwordResets.WithLabelValues(source).Inc()
}
