package detect

import (
	"fmt"
	"strings"
)

const (
	newHeader    = "🚨 NEW COURSE RELEASED:"
	updatePrefix = "🔄 Seat Update:"
)

// Message renders the single composite notification for d.
// It returns "" for an empty decision.
func (d Decision) Message() string {
	blocks := make([]string, 0, 1+len(d.QuantityChanges))
	if len(d.NewCodes) > 0 {
		blocks = append(blocks, newHeader+"\n"+strings.Join(d.NewCodes, ", "))
	}
	for _, c := range d.QuantityChanges {
		blocks = append(blocks, fmt.Sprintf("%s %s → %d", updatePrefix, c.Code, c.Quantity))
	}
	return strings.Join(blocks, "\n\n")
}
