package money

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Symbol is the display symbol of the clinic currency.
const Symbol = "₹"

const minorPerMajor = 100

// Format renders a for display using the digit grouping of tag. Rupees and paise are
// formatted from the integer value.
func Format(a Amount, tag language.Tag) string {
	p := message.NewPrinter(tag)
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%s%s.%02d", Symbol, sign, p.Sprint(number.Decimal(v/minorPerMajor)), v%minorPerMajor)
}
