package engine

import "math/rand/v2"

type TallyResult struct {
	WinningMaps  []string
	MaxVoteCount int
	ChosenMap    string
	Random       bool
}

var pickRandom = func(n int) int {
	return rand.IntN(n)
}

// Tally picks the map with the most votes. Ties, including the case where no
// votes were cast at all, are broken uniformly at random among the tied maps.
// pool order is kept in WinningMaps.
func Tally(pool []string, counts map[string]int) TallyResult {
	top := 0
	for _, m := range pool {
		if counts[m] > top {
			top = counts[m]
		}
	}

	var winners []string
	for _, m := range pool {
		if counts[m] == top {
			winners = append(winners, m)
		}
	}

	result := TallyResult{WinningMaps: winners, MaxVoteCount: top}
	switch len(winners) {
	case 0:
	case 1:
		result.ChosenMap = winners[0]
	default:
		result.ChosenMap = winners[pickRandom(len(winners))]
		result.Random = true
	}
	return result
}
