package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the provider core
type Metrics struct {
	// Endpoint metrics
	AuthorizeRequests metric.Int64Counter
	AccessRequests    metric.Int64Counter
	Introspections    metric.Int64Counter
	Revocations       metric.Int64Counter

	// Token lifecycle metrics
	CodesIssued   metric.Int64Counter
	CodesRedeemed metric.Int64Counter
	TokensIssued  metric.Int64Counter

	// Security metrics
	ReplayDetected     metric.Int64Counter
	SignatureMismatch  metric.Int64Counter
	PKCEValidationFail metric.Int64Counter

	// Key resolution metrics
	JWKSFetches metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	providerMeter := inst.Meter("provider")
	tokenMeter := inst.Meter("token")
	storageMeter := inst.Meter("storage")

	if m.AuthorizeRequests, err = providerMeter.Int64Counter(
		"oauth.authorize.requests.total",
		metric.WithDescription("Total authorize endpoint requests accepted"),
	); err != nil {
		return nil, fmt.Errorf("creating authorize counter: %w", err)
	}

	if m.AccessRequests, err = providerMeter.Int64Counter(
		"oauth.token.requests.total",
		metric.WithDescription("Total token endpoint requests handled"),
	); err != nil {
		return nil, fmt.Errorf("creating access counter: %w", err)
	}

	if m.Introspections, err = providerMeter.Int64Counter(
		"oauth.introspections.total",
		metric.WithDescription("Total token introspections"),
	); err != nil {
		return nil, fmt.Errorf("creating introspection counter: %w", err)
	}

	if m.Revocations, err = providerMeter.Int64Counter(
		"oauth.revocations.total",
		metric.WithDescription("Total successful token revocations"),
	); err != nil {
		return nil, fmt.Errorf("creating revocation counter: %w", err)
	}

	if m.CodesIssued, err = tokenMeter.Int64Counter(
		"oauth.codes.issued.total",
		metric.WithDescription("Total authorization codes issued"),
	); err != nil {
		return nil, fmt.Errorf("creating codes issued counter: %w", err)
	}

	if m.CodesRedeemed, err = tokenMeter.Int64Counter(
		"oauth.codes.redeemed.total",
		metric.WithDescription("Total authorization codes redeemed"),
	); err != nil {
		return nil, fmt.Errorf("creating codes redeemed counter: %w", err)
	}

	if m.TokensIssued, err = tokenMeter.Int64Counter(
		"oauth.tokens.issued.total",
		metric.WithDescription("Total access, refresh, and ID tokens issued"),
	); err != nil {
		return nil, fmt.Errorf("creating tokens issued counter: %w", err)
	}

	if m.ReplayDetected, err = tokenMeter.Int64Counter(
		"oauth.security.replay.total",
		metric.WithDescription("Total authorization code replay attempts detected"),
	); err != nil {
		return nil, fmt.Errorf("creating replay counter: %w", err)
	}

	if m.SignatureMismatch, err = tokenMeter.Int64Counter(
		"oauth.security.signature_mismatch.total",
		metric.WithDescription("Total token signature mismatches"),
	); err != nil {
		return nil, fmt.Errorf("creating signature mismatch counter: %w", err)
	}

	if m.PKCEValidationFail, err = tokenMeter.Int64Counter(
		"oauth.security.pkce_failed.total",
		metric.WithDescription("Total failed PKCE verifier validations"),
	); err != nil {
		return nil, fmt.Errorf("creating pkce counter: %w", err)
	}

	if m.JWKSFetches, err = providerMeter.Int64Counter(
		"oauth.jwks.fetches.total",
		metric.WithDescription("Total remote JWKS document fetches"),
	); err != nil {
		return nil, fmt.Errorf("creating jwks counter: %w", err)
	}

	if m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operations.total",
		metric.WithDescription("Total storage operations"),
	); err != nil {
		return nil, fmt.Errorf("creating storage counter: %w", err)
	}

	if m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating storage histogram: %w", err)
	}

	return m, nil
}

// RecordStorageOperation records one storage operation with its outcome
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil || m.StorageOperationTotal == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}
