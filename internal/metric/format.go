package metric

import (
	"github.com/dustin/go-humanize"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// FormatValue renders v for display according to f. Percentages are stored
// as ratios, so 0.125 renders as "12.5%".
func FormatValue(v float64, f store.Format) string {
	switch f {
	case store.FormatCurrency:
		if v < 0 {
			return "-$" + humanize.FormatFloat("#,###.##", -v)
		}
		return "$" + humanize.FormatFloat("#,###.##", v)
	case store.FormatPercentage:
		return humanize.CommafWithDigits(v*100, 1) + "%"
	default:
		return humanize.CommafWithDigits(v, 2)
	}
}
