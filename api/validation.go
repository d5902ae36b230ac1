package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/payments-transfer-api/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names so clients see the field they sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("money", validMoney)
	return v
}

// validMoney rejects amounts that the ledger would have to round.
func validMoney(fl validator.FieldLevel) bool {
	switch d := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return models.ValidMoneyScale(d)
	case *decimal.Decimal:
		return d == nil || models.ValidMoneyScale(*d)
	}
	return false
}

// tagErrors maps validator tags to the codes and messages clients already know.
var tagErrors = map[string]models.ErrorInfo{
	"required": {Code: "NotNull", Message: "must not be null"},
	"money":    {Code: "Digits", Message: fmt.Sprintf("must have at most %d fractional digits", models.MoneyScale)},
}

// validateRequest checks request shape only; business rules belong to the engine.
func validateRequest(req *models.TransferRequest) []models.ErrorInfo {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []models.ErrorInfo{{Code: "INVALID", Message: err.Error()}}
	}

	infos := make([]models.ErrorInfo, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		info, ok := tagErrors[fe.Tag()]
		if !ok {
			info = models.ErrorInfo{Code: strings.ToUpper(fe.Tag()), Message: fe.Error()}
		}
		info.Field = fe.Field()
		infos = append(infos, info)
	}
	return infos
}
