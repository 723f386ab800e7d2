package lookup

import "slices"

// Equal reports whether freshly extracted rows match the persisted rows.
// Both lists must already be in canonical order; rows are compared
// position by position.
func Equal[T comparable](extracted, persisted []T) bool {
	if len(extracted) != len(persisted) {
		return false
	}
	for i := range extracted {
		if extracted[i] != persisted[i] {
			return false
		}
	}
	return true
}

// sortRows puts rows in canonical order. A nil compare keeps extraction
// order.
func sortRows[T any](rows []T, compare func(a, b T) int) {
	if compare != nil {
		slices.SortStableFunc(rows, compare)
	}
}
