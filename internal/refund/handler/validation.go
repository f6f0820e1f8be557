package handler

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var refundValidator = newRefundValidator()

// newRefundValidator decimal.Decimal을 문자열로 검사하는 validator
func newRefundValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	mustRegister(v, "money", validateMoney)
	return v
}

// mustRegister 등록 실패는 설정 오류이므로 초기화 시점에 중단
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// validateMoney 0보다 크고 소수점 이하 2자리 이내
func validateMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Equal(d.Round(2))
}
