package analyzer

import "ingest/internal/naming"

// Similarity returns a [0,1] ratio of how alike two column labels are, after
// both are normalized to identifier form. The metric is the classic
// sequence-matcher ratio: 2*M/T, where M is the total size of the longest
// matching blocks and T the combined length.
//
// The confidence scores built on this value are part of the external
// contract, so the block-matching algorithm below is implemented exactly
// (no junk heuristic, which only matters for long texts).
func Similarity(a, b string) float64 {
	return ratio([]rune(naming.Normalize(a, 0)), []rune(naming.Normalize(b, 0)))
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingTotal(a, b)) / float64(total)
}

type block struct{ alo, ahi, blo, bhi int }

// matchingTotal sums the sizes of all matching blocks found by recursively
// splitting around the longest common block.
func matchingTotal(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	total := 0
	queue := []block{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		q := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b2j, q.alo, q.ahi, q.blo, q.bhi)
		if k == 0 {
			continue
		}
		total += k
		if q.alo < i && q.blo < j {
			queue = append(queue, block{q.alo, i, q.blo, j})
		}
		if i+k < q.ahi && j+k < q.bhi {
			queue = append(queue, block{i + k, q.ahi, j + k, q.bhi})
		}
	}
	return total
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] with
// alo<=i<ahi, blo<=j<bhi. Ties prefer the earliest i, then earliest j,
// matching the reference behavior.
func longestMatch(a []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	besti, bestj = alo, blo
	j2len := map[int]int{}

	for i := alo; i < ahi; i++ {
		newj2len := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}
