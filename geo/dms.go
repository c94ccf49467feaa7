package geo

import (
	"fmt"
	"math"
)

// FormatDMS renders decimal coordinates as degrees, minutes and seconds with a hemisphere letter.
func FormatDMS(lat, lon float64) (latStr, lonStr string) {
	return dms(lat, 'N', 'S'), dms(lon, 'E', 'W')
}

func dms(v float64, pos, neg rune) string {
	hemi := pos
	if v < 0 {
		hemi = neg
	}
	v = math.Abs(v)
	deg := math.Trunc(v)
	minFloat := (v - deg) * 60
	minutes := math.Trunc(minFloat)
	seconds := (minFloat - minutes) * 60
	return fmt.Sprintf("%d° %d' %.2f\" %c", int(deg), int(minutes), seconds, hemi)
}
