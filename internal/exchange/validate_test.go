package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kairoex/matching-core/internal/domain"
)

func validInput() SubmitInput {
	return SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD",
		Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: d("100"), Quantity: d("1"),
	}
}

func TestValidateSubmit_Valid(t *testing.T) {
	assert.NoError(t, validateSubmit(validInput()))
}

func TestValidateSubmit_InvalidSide(t *testing.T) {
	in := validInput()
	in.Side = "sideways"
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_InvalidType(t *testing.T) {
	in := validInput()
	in.Type = "stop"
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_MissingClientID(t *testing.T) {
	in := validInput()
	in.ClientID = ""
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_MissingInstrument(t *testing.T) {
	in := validInput()
	in.Instrument = ""
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_NonPositiveQuantity(t *testing.T) {
	in := validInput()
	in.Quantity = d("0")
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_NonPositivePriceOnLimitOrder(t *testing.T) {
	in := validInput()
	in.Price = d("0")
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}

func TestValidateSubmit_MarketOrderIgnoresPrice(t *testing.T) {
	in := validInput()
	in.Type = domain.OrderTypeMarket
	in.Price = d("0")
	assert.NoError(t, validateSubmit(in))
}

func TestValidateSubmit_ExcessDecimalPlacesRejected(t *testing.T) {
	in := validInput()
	in.Quantity = d("1.123456789")
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)

	in = validInput()
	in.Price = d("100.123456789")
	assert.ErrorIs(t, validateSubmit(in), ErrValidation)
}
