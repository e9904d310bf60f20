package payment

import (
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/timnyborg/redpot-unchained-sub001/core"
)

var (
	paymentTypeTag  = "paymenttype"
	paymentTypeText = "unknown payment type"

	positiveAmountTag  = "positiveamount"
	positiveAmountText = "amount must be greater than zero"
)

func init() {
	_ = core.Validate.RegisterValidation(paymentTypeTag, paymentTypeValidation)
	core.RegisterCustomTranslation(paymentTypeTag, paymentTypeText)

	core.Validate.RegisterStructValidation(newPaymentStructLevelValidation, NewPayment{})
	core.RegisterCustomTranslation(positiveAmountTag, positiveAmountText)
}

// paymentTypeValidation checks that the payment type is one of AllTypes
func paymentTypeValidation(fl validator.FieldLevel) bool {
	return lo.Contains(AllTypes, fl.Field().String())
}

func newPaymentStructLevelValidation(sl validator.StructLevel) {
	np := sl.Current().Interface().(NewPayment)
	if !np.Amount.IsPositive() {
		sl.ReportError(np.Amount, "amount", "Amount", positiveAmountTag, "")
	}
}
