package util

import (
	"golang.org/x/text/unicode/norm"
)

// NormalizePassword applies NFKD normalization so that the same password
// typed on different platforms derives the same key.
func NormalizePassword(s string) string {
	return norm.NFKD.String(s)
}
