package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Truncate 将数值向零截断到 digits 位小数并渲染为字符串。
// 不做四舍五入；小数位不超过 digits 的数值原样返回。value 必须为有限数。
func Truncate(value float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return decimal.NewFromFloat(value).Truncate(int32(digits)).String()
}

// DigitsFromIncrement 计算步长字符串（如 "0.0001"）小数点后的位数。
func DigitsFromIncrement(increment string) int {
	increment = strings.TrimSpace(increment)
	idx := strings.IndexByte(increment, '.')
	if idx < 0 {
		return 0
	}
	return len(increment) - idx - 1
}

// digitsFromTick 将 ccxt TICK_SIZE 模式下的步长转换为小数位数。
func digitsFromTick(tick *float64) int {
	if tick == nil || *tick <= 0 {
		return 0
	}
	return DigitsFromIncrement(decimal.NewFromFloat(*tick).String())
}
