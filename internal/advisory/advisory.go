package advisory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Band is one of five disjoint rainfall ranges, ordered from driest to wettest.
type Band int

// Band constants. Lower bounds are inclusive: 1.00 mm is Light, 5.00 mm is Optimal.
const (
	BandDrought Band = iota // < 1 mm
	BandLight               // [1, 5)
	BandOptimal             // [5, 20)
	BandHeavy               // [20, 50)
	BandSevere              // >= 50
)

// String returns the stable label used in metrics and JSON.
func (b Band) String() string {
	switch b {
	case BandDrought:
		return "drought"
	case BandLight:
		return "light"
	case BandOptimal:
		return "optimal"
	case BandHeavy:
		return "heavy"
	case BandSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// MarshalText encodes the band as its label.
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText parses a label produced by MarshalText.
func (b *Band) UnmarshalText(text []byte) error {
	for candidate := BandDrought; candidate <= BandSevere; candidate++ {
		if candidate.String() == string(text) {
			*b = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown advisory band %q", text)
}

// Advisory is crop guidance derived from a rainfall estimate. RainfallMM is the
// two-decimal value both the band and the title are based on.
type Advisory struct {
	Band       Band    `json:"band"`
	RainfallMM float64 `json:"rainfallMm"`
	Title      string  `json:"title"`
	General    string  `json:"general"`
	Maize      string  `json:"maize"`
	Beans      string  `json:"beans"`
}

type bandContent struct {
	tag     string
	general string
	maize   string
	beans   string
}

var content = [...]bandContent{
	BandDrought: {
		tag:     "Drought Alert",
		general: "Very dry conditions expected. Conserve soil moisture with mulching and plan irrigation for the coming days.",
		maize:   "Irrigate young maize where possible and postpone fertilizer top-dressing until moisture returns.",
		beans:   "Delay sowing beans until rains resume; irrigate emerging seedlings to prevent wilting.",
	},
	BandLight: {
		tag:     "Light Rain",
		general: "Light rain expected. Useful for established crops but not enough to recharge soil moisture.",
		maize:   "Good window to top-dress maize with nitrogen while the soil is damp.",
		beans:   "Monitor beans for moisture stress and weed competition; supplement with irrigation if dry spells follow.",
	},
	BandOptimal: {
		tag:     "Optimal",
		general: "Rainfall is in the optimal range for field operations and crop growth.",
		maize:   "Plant maize now and apply basal fertilizer; keep fields weeded.",
		beans:   "Plant beans now; ensure good seed-to-soil contact for even germination.",
	},
	BandHeavy: {
		tag:     "Heavy Rain Warning",
		general: "Heavy rain expected. Clear drainage channels and protect soil from erosion on slopes.",
		maize:   "Risk of waterlogging and stalk rot in maize; open furrows to drain standing water.",
		beans:   "Avoid field access to prevent soil compaction; watch beans for root rot and leaf disease.",
	},
	BandSevere: {
		tag:     "Severe Flooding",
		general: "Severe flood risk. Cease field activity, move stored harvest and inputs to higher ground.",
		maize:   "Crop loss is likely in low-lying maize fields; plan replanting once water recedes.",
		beans:   "Crop loss is likely for beans in flooded areas; do not enter fields until water recedes.",
	},
}

// Classify maps a rainfall estimate in millimeters to an Advisory.
// The input is cut to two decimals (see Truncate) and that value decides both the
// band and the displayed figure, so 49.999 reads "49.99 mm" and stays Heavy.
// Titles therefore show the cut value, not a rounded one: 1.006 reads "1.0 mm", not "1.01 mm".
// Negative input is classified as Drought; NaN is treated as Drought as well.
// Classify is pure: equal inputs yield equal results.
func Classify(rainfallMM float64) Advisory {
	rounded := Truncate(rainfallMM)
	band := BandFor(rounded)
	c := content[band]
	return Advisory{
		Band:       band,
		RainfallMM: rounded,
		Title:      c.tag + " (" + FormatMM(rounded) + " mm)",
		General:    c.general,
		Maize:      c.maize,
		Beans:      c.beans,
	}
}

// BandFor returns the band containing mm, without rounding.
func BandFor(mm float64) Band {
	switch {
	case mm >= 50:
		return BandSevere
	case mm >= 20:
		return BandHeavy
	case mm >= 5:
		return BandOptimal
	case mm >= 1:
		return BandLight
	default:
		return BandDrought
	}
}

// Truncate rounds mm toward zero to two decimals on its shortest decimal form,
// so 1.004 -> 1.00 and 0.999999 -> 0.99. Band boundaries are whole millimeters,
// which makes the band of the truncated value equal to the band of mm itself.
// Negative zero becomes zero.
func Truncate(mm float64) float64 {
	if math.IsNaN(mm) || math.IsInf(mm, 0) {
		return mm
	}
	s := strconv.FormatFloat(mm, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s) > i+3 {
		s = s[:i+3]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return 0
	}
	return v
}

// FormatMM renders mm in its shortest decimal form with at least one fractional
// digit, e.g. 0.5 -> "0.5", 12 -> "12.0".
func FormatMM(mm float64) string {
	s := strconv.FormatFloat(mm, 'f', -1, 64)
	if math.IsNaN(mm) || math.IsInf(mm, 0) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}
