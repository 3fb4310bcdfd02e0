// Пакет format — форматирование чисел и денежных сумм для отображения.
// Все функции чистые и тотальные: некорректный вход даёт пустое значение,
// а не ошибку.
package format

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// maxFractionDigits ограничивает дробную часть FormatNumber.
const maxFractionDigits = 10

var (
	printer = message.NewPrinter(language.AmericanEnglish)

	// Форматтеры USD: "$1,234" и "$1,234.56". Знак минуса go-money ставит перед "$".
	wholeDollars = money.NewFormatter(0, ".", ",", "$", "$1")
	centsDollars = money.NewFormatter(2, ".", ",", "$", "$1")

	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)

	// Предел go-money: сумма в центах должна помещаться в int64.
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
)

// ParseAmount приводит слабо типизированное значение к decimal.
// Принимает числа, json.Number и строки (разделители групп и "$" отбрасываются).
// Возвращает false для nil, пустой строки, NaN, Inf и нечисловых значений.
func ParseAmount(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int8:
		return decimal.NewFromInt(int64(x)), true
	case int16:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt32(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint:
		return fromUint64(uint64(x)), true
	case uint8:
		return decimal.NewFromInt(int64(x)), true
	case uint16:
		return decimal.NewFromInt(int64(x)), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case uint64:
		return fromUint64(x), true
	case json.Number:
		return parseString(string(x))
	case string:
		return parseString(x)
	default:
		return decimal.Zero, false
	}
}

func fromUint64(x uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
}

func parseString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.Replace(s, "$", "", 1)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// FormatNumber возвращает число с разделителями групп en-US ("1,234,567.5").
// Дробных знаков столько же, сколько во входном значении.
func FormatNumber(v any) string {
	d, ok := ParseAmount(v)
	if !ok {
		return ""
	}
	places := int32(fractionDigits(d))
	d = d.Round(places)
	return signOf(d) + groupDigits(d.Abs().StringFixed(places))
}

// fractionDigits — число знаков после запятой в записи d.
func fractionDigits(d decimal.Decimal) int {
	exp := int(d.Exponent())
	if exp >= 0 {
		return 0
	}
	return min(-exp, maxFractionDigits)
}

// UnformatNumber убирает разделители групп: "1,234.5" -> "1234.5".
func UnformatNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ReplaceAll(s, ",", "")
}

// FormatCurrency форматирует сумму в долларах США: "$1,235" или "$1,234.56".
// Для nil, пустой строки и NaN возвращает "$0".
// Округление — половина от нуля.
func FormatCurrency(v any, showDecimals bool) string {
	d, ok := ParseAmount(v)
	if !ok {
		return "$0"
	}
	places, f := int32(0), wholeDollars
	if showDecimals {
		places, f = 2, centsDollars
	}
	d = d.Round(places)

	if minor := d.Shift(places); minor.Abs().LessThanOrEqual(maxMinorUnits) {
		return f.Format(minor.IntPart())
	}
	return signOf(d) + "$" + groupDigits(d.Abs().StringFixed(places))
}

func signOf(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return ""
}

// groupDigits расставляет разделители групп в записи неотрицательного числа
// ("1234567.25" -> "1,234,567.25"). Дробная часть не меняется.
func groupDigits(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var grouped string
	if n, err := strconv.ParseInt(intPart, 10, 64); err == nil {
		grouped = printer.Sprintf("%v", number.Decimal(n))
	} else {
		// За пределами int64 группируем по три цифры вручную.
		var b strings.Builder
		for i := range len(intPart) {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				b.WriteByte(',')
			}
			b.WriteByte(intPart[i])
		}
		grouped = b.String()
	}

	if hasFrac {
		return grouped + "." + frac
	}
	return grouped
}

// FormatCompactCurrency сокращает крупные суммы: "$2.5M", "$2.5K".
// Суммы меньше тысячи форматируются через FormatCurrency.
func FormatCompactCurrency(v any) string {
	d, ok := ParseAmount(v)
	if !ok {
		return FormatCurrency(v, false)
	}

	sign := signOf(d)
	abs := d.Abs()

	switch {
	case abs.GreaterThanOrEqual(million):
		return sign + "$" + abs.Div(million).StringFixed(1) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return sign + "$" + abs.Div(thousand).StringFixed(1) + "K"
	default:
		return FormatCurrency(d, false)
	}
}
