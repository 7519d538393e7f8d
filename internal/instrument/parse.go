package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// nonNumericSentinels are replies the controllers send instead of a number.
// Compared upper-cased after trimming.
var nonNumericSentinels = map[string]struct{}{
	"":       {},
	"OL":     {}, // open loop / overload
	"+OL":    {},
	"-OL":    {},
	"OVL":    {},
	"+OVL":   {},
	"-OVL":   {},
	"NOVAL":  {},
	"T.OVER": {}, // temperature over range
	"S.OVER": {}, // sensor units over range
	"NAN":    {},
	"+NAN":   {},
	"-NAN":   {},
	"INF":    {},
	"+INF":   {},
	"-INF":   {},
}

// ParseChannelValue converts a raw instrument reply to a float.
//
// It returns ok=false for the documented sentinels, for anything strconv
// cannot parse, and for NaN or infinite results. Leading signs and zero
// padding ("+079.200") are accepted.
func ParseChannelValue(raw string) (float64, bool) {
	text := strings.TrimSpace(raw)
	if _, ok := nonNumericSentinels[strings.ToUpper(text)]; ok {
		return 0, false
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Reading is one channel's result within a poll. Value is nil when the
// instrument answered with something that is not a number.
type Reading struct {
	Value   *float64
	Warning string
}

// NewReading parses raw into a Reading, attaching a warning when it degrades to null.
func NewReading(source, channel, raw string) Reading {
	if v, ok := ParseChannelValue(raw); ok {
		return Reading{Value: &v}
	}
	return Reading{Warning: nonNumericWarning(source, channel, raw)}
}

func nonNumericWarning(source, channel, raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fmt.Sprintf("%s returned empty value for %s; treating as null", source, channel)
	}
	return fmt.Sprintf("%s returned non-numeric value for %s: %q", source, channel, text)
}
