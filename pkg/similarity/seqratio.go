package similarity

// sequenceRatio returns 2*M/T where M is the total size of all matching
// blocks in the best alignment of a and b, and T is the combined length.
// Two empty sequences are a perfect match.
func sequenceRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	matched := 0
	for _, m := range matchingBlocks(a, b) {
		matched += m.size
	}
	return 2.0 * float64(matched) / float64(total)
}

type match struct {
	a, b, size int
}

// matchingBlocks finds non-overlapping matching blocks by repeatedly taking
// the longest match in each unexamined region, left to right.
func matchingBlocks(a, b []rune) []match {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	type region struct {
		alo, ahi, blo, bhi int
	}
	queue := []region{{0, len(a), 0, len(b)}}

	var blocks []match
	for len(queue) > 0 {
		r := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		m := longestMatch(a, b2j, r.alo, r.ahi, r.blo, r.bhi)
		if m.size == 0 {
			continue
		}
		blocks = append(blocks, m)
		if r.alo < m.a && r.blo < m.b {
			queue = append(queue, region{r.alo, m.a, r.blo, m.b})
		}
		if m.a+m.size < r.ahi && m.b+m.size < r.bhi {
			queue = append(queue, region{m.a + m.size, r.ahi, m.b + m.size, r.bhi})
		}
	}
	return blocks
}

// longestMatch finds the longest matching block of a[alo:ahi] in b[blo:bhi].
// Among equally long matches it prefers the one starting earliest in a,
// then earliest in b, which keeps the result deterministic.
func longestMatch(a []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) match {
	best := match{a: alo, b: blo, size: 0}
	j2len := make(map[int]int)

	for i := alo; i < ahi; i++ {
		newJ2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > best.size {
				best = match{a: i - k + 1, b: j - k + 1, size: k}
			}
		}
		j2len = newJ2len
	}
	return best
}
