package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit tables. The position of a unit in its table is its power of 1024, so
// the customary (K, M, G) and IEC (Ki, Mi, Gi) systems resolve to the same
// binary multiples.
var unitTables = [][]string{
	{"B", "K", "M", "G", "T", "P", "E", "Z", "Y"},
	{"byte", "kilo", "mega", "giga", "tera", "peta", "exa", "zetta", "iotta"},
	{"Bi", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"},
	{"byte", "kibi", "mebi", "gibi", "tebi", "pebi", "exbi", "zebi", "yobi"},
}

// PredictSize converts a human readable size such as "8192 M", "1.5Gi" or
// "1 mebi" to a byte count. A lowercase "k" is accepted for "K". A number
// with no unit is a byte count.
func PredictSize(size string) (int64, error) {
	s := strings.TrimSpace(size)

	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("can't interpret size %q: missing magnitude", size)
	}

	magnitude, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("can't interpret size %q: %w", size, err)
	}

	unit := strings.TrimSpace(s[end:])
	if unit == "" {
		return int64(magnitude), nil
	}
	if unit == "k" {
		unit = "K"
	}

	for _, table := range unitTables {
		for power, symbol := range table {
			if symbol != unit {
				continue
			}
			multiplier := int64(1)
			if power > 0 {
				multiplier = 1 << (power * 10)
			}
			return int64(magnitude * float64(multiplier)), nil
		}
	}

	return 0, fmt.Errorf("can't interpret size %q: unknown unit %q", size, unit)
}
