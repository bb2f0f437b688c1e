package wire

import (
	"strconv"
	"strings"
)

// CompareVersions orders two dotted protocol versions numerically,
// component by component ("1.2" > "1.10" is false). Missing components
// compare as zero; non-numeric components compare as zero.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MinVersion returns the lower of two dotted versions. Used to
// negotiate the effective protocol version after the handshake.
func MinVersion(a, b string) string {
	if CompareVersions(a, b) <= 0 {
		return a
	}
	return b
}
