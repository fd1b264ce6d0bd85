package common

import (
	"strconv"
	"strings"
)

// ParseBlockNumber reads a block number written in decimal or as 0x-prefixed hex,
// the two forms nodes and operators use interchangeably.
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(hex, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
