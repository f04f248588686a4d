package detect

// Change is a seat-count change for an already known code.
type Change struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// Decision is the outcome of comparing two observations.
type Decision struct {
	NewCodes        []string `json:"new_codes"`
	QuantityChanges []Change `json:"quantity_changes"`
}

// Empty reports whether there is nothing to notify about.
func (d Decision) Empty() bool {
	return len(d.NewCodes) == 0 && len(d.QuantityChanges) == 0
}

// Detect classifies current against previous, in the snapshot's detection order.
//
// Codes missing from previous are new; known codes with a different quantity are
// changes. Codes that disappeared from current are not reported.
// Detect never mutates its inputs.
func Detect(previous map[string]int, current Snapshot) Decision {
	var d Decision
	for _, code := range current.order {
		q := current.qty[code]
		old, known := previous[code]
		switch {
		case !known:
			d.NewCodes = append(d.NewCodes, code)
		case old != q:
			d.QuantityChanges = append(d.QuantityChanges, Change{Code: code, Quantity: q})
		}
	}
	return d
}
