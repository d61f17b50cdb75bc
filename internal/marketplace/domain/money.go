package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale 金额小数位，与库表 decimal(20,2) 一致
const MoneyScale = 2

// ValidateAmount 金额必须为正，且不能超过 MoneyScale 位小数（否则落库时被静默舍入）
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%s must be positive: %w", field, ErrInvalidArgument)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("%s %s has more than %d decimal places: %w", field, amount, MoneyScale, ErrInvalidArgument)
	}
	return nil
}
