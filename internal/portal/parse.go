package portal

import (
	"regexp"
	"strconv"
	"strings"

	"seatwatch/internal/detect"
)

var digitsRe = regexp.MustCompile(`\d+`)

// ParseRow extracts an item from one table row's text.
//
// The row must contain prefix. The code is the first whitespace-separated
// token starting with prefix; the quantity is the last run of digits in the
// whole row.
func ParseRow(text, prefix string) (detect.Item, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.Contains(text, prefix) {
		return detect.Item{}, false
	}
	var code string
	for _, tok := range strings.Fields(text) {
		if strings.HasPrefix(tok, prefix) {
			code = tok
			break
		}
	}
	if code == "" {
		return detect.Item{}, false
	}
	nums := digitsRe.FindAllString(text, -1)
	if len(nums) == 0 {
		return detect.Item{}, false
	}
	n, err := strconv.Atoi(nums[len(nums)-1])
	if err != nil {
		// absurdly long digit run
		return detect.Item{}, false
	}
	return detect.Item{Code: code, Quantity: n}, true
}

// scanRows adds every matching row to snap. A later row for the same code
// overwrites the quantity.
func scanRows(snap *detect.Snapshot, rows []string, prefix string) int {
	n := 0
	for _, r := range rows {
		if it, ok := ParseRow(r, prefix); ok {
			snap.Set(it.Code, it.Quantity)
			n++
		}
	}
	return n
}
