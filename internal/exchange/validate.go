package exchange

import (
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/kairoex/matching-core/internal/domain"
)

// SubmitInput is the caller-supplied shape of submit_order (spec.md
// §4.3 step 1), before order_id assignment.
type SubmitInput struct {
	// OrderID is optional; the coordinator assigns one when absent
	// (spec.md §4.3 step 3, "order_id (client- or server-assigned)").
	OrderID        string
	ClientID       string           `validate:"required"`
	Instrument     string           `validate:"required"`
	Side           domain.Side      `validate:"oneof=buy sell"`
	Type           domain.OrderType `validate:"oneof=limit market"`
	Price          decimal.Decimal
	Quantity       decimal.Decimal `validate:"decimal_gt0,decimal_places"`
	IdempotencyKey string
}

// submitValidator is the package-wide struct validator, built the way
// the teacher's internal/validation.Validator registers domain-specific
// tag functions on top of go-playground/validator's base struct walk.
// decimal.Decimal can't use the library's built-in "gt=0" numeric tag
// (it inspects float/int kinds, not shopspring/decimal's internal
// big.Int representation), so price/quantity positivity and precision
// get their own tag functions instead, mirroring the teacher's
// validatePrice/validateAmount.
var submitValidator = newSubmitValidator()

func newSubmitValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("decimal_gt0", validateDecimalPositive)
	v.RegisterValidation("decimal_places", validateDecimalPlaces)
	v.RegisterStructValidation(validatePriceRequiredForLimit, SubmitInput{})
	return v
}

func validateDecimalPositive(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(decimal.Decimal)
	return ok && d.IsPositive()
}

func validateDecimalPlaces(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(decimal.Decimal)
	return ok && domain.ValidateDecimalPlaces(d)
}

// validatePriceRequiredForLimit is a struct-level rule: price must be
// positive and within precision for limit orders, and is otherwise
// unconstrained (market orders carry no price, spec.md §4.3 step 1).
func validatePriceRequiredForLimit(sl validator.StructLevel) {
	in := sl.Current().Interface().(SubmitInput)
	if in.Type != domain.OrderTypeLimit {
		return
	}
	if !in.Price.IsPositive() {
		sl.ReportError(in.Price, "Price", "Price", "decimal_gt0", "")
		return
	}
	if !domain.ValidateDecimalPlaces(in.Price) {
		sl.ReportError(in.Price, "Price", "Price", "decimal_places", "")
	}
}

// validateSubmit implements spec.md §4.3 step 1: side, type, quantity
// > 0, price > 0 for limit orders, decimal precision ≤ 8 on both
// fields. A validation failure (class 1) is never persisted.
func validateSubmit(in SubmitInput) error {
	if err := submitValidator.Struct(in); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, formatValidationError(e))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}

// formatValidationError mirrors the teacher's
// internal/validation.formatValidationError: one human-readable
// message per failed field/tag pair.
func formatValidationError(e validator.FieldError) string {
	field := fieldLabel(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "decimal_gt0":
		return fmt.Sprintf("%s must be > 0", field)
	case "decimal_places":
		return fmt.Sprintf("%s exceeds %d fractional digits", field, domain.MaxDecimalPlaces)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

func fieldLabel(name string) string {
	switch name {
	case "ClientID":
		return "client_id"
	case "Instrument":
		return "instrument"
	case "Side":
		return "side"
	case "Type":
		return "type"
	case "Price":
		return "price"
	case "Quantity":
		return "quantity"
	default:
		return name
	}
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
