package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation labels
const (
	OpCreateSale   = "create_sale"
	OpCreateReturn = "create_return"
	OpSwap         = "swap"
)

// operation times a ledger call, counts its failure kind and closes its span
type operation struct {
	name  string
	start time.Time
	span  trace.Span
}

func startOperation(ctx context.Context, name, spanName string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := util.StartSpan(ctx, spanName, attrs...)
	return ctx, &operation{name: name, start: time.Now(), span: span}
}

func (o *operation) finish(err error) {
	util.LedgerOperationLatency.WithLabelValues(o.name).Observe(time.Since(o.start).Seconds())
	if err != nil {
		util.LedgerFailuresTotal.WithLabelValues(o.name, string(KindOf(err))).Inc()
	}
	util.EndSpan(o.span, err)
}

// idempotencyKey prefers the transport-level key and falls back to the body field
func idempotencyKey(header, body string) (string, error) {
	key := strings.TrimSpace(header)
	if key == "" {
		key = strings.TrimSpace(body)
	}
	if key == "" {
		return "", invalidPayload("idempotency key is required")
	}
	if len(key) > 255 {
		return "", invalidPayload("idempotency key exceeds 255 characters")
	}
	return key, nil
}

// lookupReplay runs an idempotency lookup, mapping not-found to (nil, nil)
func lookupReplay[T any](fn func() (*T, error)) (*T, error) {
	v, err := fn()
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceFailure("check idempotency key", err)
	}
	return v, nil
}
