package version

import (
	"strconv"
	"strings"
)

// Compare orders two dotted version strings numerically. Versions are
// split on ".", zero-padded to three components, and compared element-wise
// as integers, so "1.2" == "1.2.0" and "1.2.9" < "1.2.10". Returns -1, 0,
// or 1.
func Compare(a, b string) int {
	pa := components(a)
	pb := components(b)

	for i := 0; i < 3; i++ {
		if pa[i] < pb[i] {
			return -1
		}
		if pa[i] > pb[i] {
			return 1
		}
	}

	return 0
}

func components(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")

	var out [3]int
	for i, part := range strings.Split(v, ".") {
		if i >= 3 {
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			// Non-numeric segments compare as zero
			continue
		}
		out[i] = n
	}
	return out
}
