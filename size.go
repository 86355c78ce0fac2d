package uploader

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// SizeToString formats bytes with 1024-based units and at most one decimal,
// e.g. 10485760 is "10 MB" and 1572864 is "1.5 MB".
func SizeToString(bytes uint64) string {
	v := float64(bytes)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}

	v = math.Round(v*10) / 10
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
