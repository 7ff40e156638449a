package projection

import (
	"strconv"
	"time"
)

// parseFloat, parseInt and parseTime are deliberately tolerant: a
// malformed KV value leaves the field at its zero value rather than
// aborting the whole projection, matching the snapshot's general policy of
// ignoring groups with missing or malformed state instead of failing hard.

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
