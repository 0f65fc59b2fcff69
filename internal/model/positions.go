package model

// BuildPositionIDs derives learned-position indices from token ids: a running
// count over non-pad tokens, offset by the pad id, with pad tokens pinned to
// the pad position. The first real token lands at pad+1.
func BuildPositionIDs(tokens []int, pad int) []int {
	positions := make([]int, len(tokens))
	count := 0
	for i, tok := range tokens {
		if tok == pad {
			positions[i] = pad
			continue
		}
		count++
		positions[i] = count + pad
	}
	return positions
}

// NextPositions continues the position sequence for tokens appended after
// seen non-pad tokens have been consumed.
func NextPositions(seen, n, pad int) []int {
	positions := make([]int, n)
	for i := range positions {
		positions[i] = pad + seen + i + 1
	}
	return positions
}
