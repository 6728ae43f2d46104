package tournament

// TableSizes returns how n players are split across tables: one table when
// n <= maxTable, otherwise two tables of ceil(n/2) and floor(n/2).
func TableSizes(n, maxTable int) []int {
	switch {
	case n <= 0:
		return nil
	case n <= maxTable:
		return []int{n}
	default:
		return []int{(n + 1) / 2, n / 2}
	}
}

// Seat is a 1-based table and position.
type Seat struct {
	Table    int
	Position int
}

// Assign permutes n players with shuffle and returns the seat of each input
// index. Tables are filled in order from the permuted sequence.
func Assign(n, maxTable int, shuffle func(n int, swap func(i, j int))) []Seat {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	seats := make([]Seat, n)
	k := 0
	for t, size := range TableSizes(n, maxTable) {
		for p := 0; p < size; p++ {
			seats[order[k]] = Seat{Table: t + 1, Position: p + 1}
			k++
		}
	}
	return seats
}
