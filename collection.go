package override

import "github.com/brunoga/override/rna"

type editKind uint8

const (
	editMatch editKind = iota
	editInsert
	editDelete
)

// itemEdit is one step of the alignment of a local collection against its
// reference. Indices not involved in the step are -1.
type itemEdit struct {
	kind  editKind
	local int
	ref   int
}

// itemKey identifies a collection item for alignment purposes.
type itemKey struct {
	name  string
	index int
}

// collectionKeys computes the alignment keys of the items of prop in ptr:
// their name when they have one, their position otherwise.
func collectionKeys(ptr rna.Pointer, prop *rna.Property, useNames bool) []itemKey {
	n := ptr.Len(prop)
	keys := make([]itemKey, n)
	for i := 0; i < n; i++ {
		if useNames {
			if name, ok := ptr.Item(prop, i).Name(); ok {
				keys[i] = itemKey{name: name, index: -1}
				continue
			}
		}
		keys[i] = itemKey{index: i}
	}
	return keys
}

// alignItems returns the shortest edit script turning ref into local,
// restricted to matches, insertions and deletions.
func alignItems(ref, local []itemKey) []itemEdit {
	n, m := len(ref), len(local)
	max := n + m
	if max == 0 {
		return nil
	}
	offset := max
	v := make([]int, 2*max+1)
	var trace [][]int

	for d := 0; d <= max; d++ {
		trace = append(trace, append([]int(nil), v...))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[k-1+offset] < v[k+1+offset]) {
				x = v[k+1+offset]
			} else {
				x = v[k-1+offset] + 1
			}
			y := x - k
			for x < n && y < m && ref[x] == local[y] {
				x++
				y++
			}
			v[k+offset] = x
			if x >= n && y >= m {
				return backtrackItems(n, m, trace, offset)
			}
		}
	}
	return nil
}

func backtrackItems(n, m int, trace [][]int, offset int) []itemEdit {
	var edits []itemEdit
	x, y := n, m

	for d := len(trace) - 1; d > 0; d-- {
		v := trace[d]
		k := x - y

		var prevK int
		if k == -d || (k != d && v[k-1+offset] < v[k+1+offset]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[prevK+offset]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			edits = append(edits, itemEdit{kind: editMatch, local: y - 1, ref: x - 1})
			x--
			y--
		}
		if x > prevX {
			edits = append(edits, itemEdit{kind: editDelete, local: -1, ref: x - 1})
		} else if y > prevY {
			edits = append(edits, itemEdit{kind: editInsert, local: y - 1, ref: -1})
		}
		x, y = prevX, prevY
	}
	for x > 0 && y > 0 {
		edits = append(edits, itemEdit{kind: editMatch, local: y - 1, ref: x - 1})
		x--
		y--
	}

	for i := 0; i < len(edits)/2; i++ {
		edits[i], edits[len(edits)-1-i] = edits[len(edits)-1-i], edits[i]
	}
	return edits
}
