package service

import (
	"context"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService checks the tender of a sale against its authoritative total.
// Settlement happens at the terminal; the ledger only records what was taken.
type PaymentService struct {
	logger *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService() *PaymentService {
	return &PaymentService{
		logger: util.GetLogger(),
	}
}

// Validate enforces the fields each payment method requires
func (ps *PaymentService) Validate(ctx context.Context, payment models.Payment, total decimal.Decimal) error {
	_, span := util.StartSpan(ctx, "PaymentService.Validate",
		attribute.String("method", payment.Method))
	defer span.End()

	if err := payment.Validate(total); err != nil {
		util.PaymentsTotal.WithLabelValues(payment.Method, "rejected").Inc()
		ps.logger.Warn("Payment rejected",
			zap.String("method", payment.Method),
			zap.String("total", total.StringFixed(models.MoneyScale)),
			zap.Error(err))
		return newLedgerError(KindPaymentValidationFailed, "%s", err.Error()).
			WithDetail("method", payment.Method).
			Wrap(err)
	}

	util.PaymentsTotal.WithLabelValues(payment.Method, "accepted").Inc()
	return nil
}
