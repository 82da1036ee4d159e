package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Payment methods
const (
	PaymentMethodCash    = "CASH"
	PaymentMethodCard    = "CARD"
	PaymentMethodDigital = "DIGITAL"
	PaymentMethodSplit   = "SPLIT"
)

var (
	ErrUnknownPaymentMethod  = errors.New("unknown payment method")
	ErrWalletReferenceNeeded = errors.New("digital payment requires a wallet reference")
	ErrSplitRequired         = errors.New("split payment requires at least two portions")
	ErrSplitPortionInvalid   = errors.New("split portion must have a method and a positive amount")
	ErrSplitTotalMismatch    = errors.New("split portions do not add up to the sale total")
	ErrUnexpectedVariant     = errors.New("payment details do not match the payment method")
)

// Payment is a tagged variant: Method selects which of the detail fields must be set.
type Payment struct {
	Method  string          `json:"method" binding:"required"`
	Digital *DigitalPayment `json:"digital,omitempty"`
	Split   *SplitPayment   `json:"split,omitempty"`
}

// DigitalPayment is the detail of a wallet payment
type DigitalPayment struct {
	WalletReference string `json:"wallet_reference"`
}

// SplitPayment is the detail of a payment spread over several methods
type SplitPayment struct {
	Portions []SplitPortion `json:"portions"`
}

// SplitPortion is one leg of a split payment
type SplitPortion struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// Normalize upper-cases the method names
func (p *Payment) Normalize() {
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	if p.Split != nil {
		for i := range p.Split.Portions {
			p.Split.Portions[i].Method = strings.ToUpper(strings.TrimSpace(p.Split.Portions[i].Method))
		}
	}
}

// Validate checks the variant's required fields against the authoritative total
func (p Payment) Validate(total decimal.Decimal) error {
	switch p.Method {
	case PaymentMethodCash, PaymentMethodCard:
		if p.Digital != nil || p.Split != nil {
			return ErrUnexpectedVariant
		}
	case PaymentMethodDigital:
		if p.Split != nil {
			return ErrUnexpectedVariant
		}
		if p.Digital == nil || strings.TrimSpace(p.Digital.WalletReference) == "" {
			return ErrWalletReferenceNeeded
		}
	case PaymentMethodSplit:
		if p.Digital != nil {
			return ErrUnexpectedVariant
		}
		if p.Split == nil || len(p.Split.Portions) < 2 {
			return ErrSplitRequired
		}
		sum := decimal.Zero
		for _, portion := range p.Split.Portions {
			if !isSplitMethod(portion.Method) || !portion.Amount.IsPositive() {
				return ErrSplitPortionInvalid
			}
			sum = sum.Add(portion.Amount)
		}
		if !WithinTolerance(sum, total) {
			return fmt.Errorf("%w: portions=%s total=%s", ErrSplitTotalMismatch, sum.StringFixed(MoneyScale), total.StringFixed(MoneyScale))
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, p.Method)
	}
	return nil
}

// WalletReference returns the digital wallet reference, if any
func (p Payment) WalletReference() string {
	if p.Digital == nil {
		return ""
	}
	return p.Digital.WalletReference
}

func isSplitMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodDigital:
		return true
	}
	return false
}

// SplitBreakdown stores split portions as a JSON column
type SplitBreakdown []SplitPortion

// Value implements driver.Valuer
func (s SplitBreakdown) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal([]SplitPortion(s))
}

// Scan implements sql.Scanner
func (s *SplitBreakdown) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]SplitPortion)(s))
	case string:
		return json.Unmarshal([]byte(v), (*[]SplitPortion)(s))
	default:
		return fmt.Errorf("unsupported split breakdown type %T", src)
	}
}
