// Package identity validates connection credentials against the remote
// identity service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/domain"
)

const (
	// HeaderSessionKey carries the credential, both on the inbound upgrade
	// request and on the call to the identity service.
	HeaderSessionKey = "Session-Key"

	DefaultValidatePath = "/api/user/validate"
	DefaultTimeout      = 5 * time.Second

	maxResponseBytes = 64
)

type Config struct {
	BaseURL      string
	ValidatePath string
	Timeout      time.Duration
}

// Validator asks the identity service whether a credential is valid.
// Every failure mode maps to domain.ErrInvalidCredential.
type Validator struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	cb       circuitbreaker.CircuitBreaker[any]
	metrics  *metrics.IdentityMetrics
}

// NewValidator creates a validator. identityMetrics may be nil.
//
// The circuit opens after 5 consecutive service failures and probes again
// after 30s. While open, every credential is rejected without a remote call.
func NewValidator(cfg Config, identityMetrics *metrics.IdentityMetrics) *Validator {
	path := cfg.ValidatePath
	if path == "" {
		path = DefaultValidatePath
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	v := &Validator{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		timeout:  timeout,
		client:   &http.Client{},
		metrics:  identityMetrics,
	}

	v.cb = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "identity",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if v.metrics != nil {
				v.metrics.CircuitState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()

	return v
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// Validate resolves credential to a user identity. The identity service only
// answers yes or no, so the identity is the credential itself.
func (v *Validator) Validate(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		v.record("missing")
		return "", fmt.Errorf("%w: missing credential", domain.ErrInvalidCredential)
	}

	// A caller that is already gone never reaches the breaker.
	if err := ctx.Err(); err != nil {
		v.record("abandoned")
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}

	if !v.cb.TryAcquirePermit() {
		v.record("circuit_open")
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidCredential, circuitbreaker.ErrOpen)
	}

	// A held permit is always recorded: the call ignores caller
	// cancellation and is bounded by v.timeout alone.
	valid, err := v.call(context.WithoutCancel(ctx), credential)
	if err != nil {
		v.cb.RecordError(err)
		v.record("unavailable")
		slog.WarnContext(ctx, "Identity service call failed", "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}
	v.cb.RecordSuccess()

	if err := ctx.Err(); err != nil {
		v.record("abandoned")
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}

	if !valid {
		v.record("rejected")
		return "", domain.ErrInvalidCredential
	}

	v.record("valid")
	return credential, nil
}

// call reports the service's verdict. A non-nil error means the service did
// not give a usable answer; a definite "no" is (false, nil).
func (v *Validator) call(ctx context.Context, credential string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(HeaderSessionKey, credential)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	if v.metrics != nil {
		v.metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return false, fmt.Errorf("identity request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("failed to read identity response: %w", err)
	}

	var valid bool
	if err := json.Unmarshal(body, &valid); err != nil {
		return false, fmt.Errorf("identity response is not a boolean: %w", err)
	}
	return valid, nil
}

// CircuitState returns the current breaker state.
func (v *Validator) CircuitState() circuitbreaker.State {
	return v.cb.State()
}

func (v *Validator) record(result string) {
	if v.metrics != nil {
		v.metrics.Validations.WithLabelValues(result).Inc()
	}
}
