package markdown

import "slices"

// Insertion places Event in front of the element at Index of the original
// sequence. An Index equal to or past the end appends.
type Insertion struct {
	Index int
	Event Event
}

// Splice returns a new sequence with every insertion applied. Insertions are
// ordered by target index; those sharing an index keep the order the caller
// gave them. The original elements keep their relative order and events is
// not modified.
func Splice(events []Event, insertions []Insertion) []Event {
	n := len(events)
	ordered := make([]Insertion, len(insertions))
	for i, ins := range insertions {
		ins.Index = min(max(ins.Index, 0), n)
		ordered[i] = ins
	}
	slices.SortStableFunc(ordered, func(a, b Insertion) int {
		return a.Index - b.Index
	})

	out := make([]Event, 0, n+len(ordered))
	next := 0
	for i, ev := range events {
		for next < len(ordered) && ordered[next].Index == i {
			out = append(out, ordered[next].Event)
			next++
		}
		out = append(out, ev)
	}
	for ; next < len(ordered); next++ {
		out = append(out, ordered[next].Event)
	}
	return out
}
