package similarity

import "strings"

// Sequence is a text prepared for lexical comparison: lower-cased runes plus
// an index of the positions of each rune. Preparing once lets a caller that
// compares every pair in a store skip the per-pair setup.
type Sequence struct {
	runes []rune
	b2j   map[rune][]int
}

// NewSequence prepares s for LexicalRatio-style comparison.
func NewSequence(s string) *Sequence {
	r := []rune(strings.ToLower(s))
	b2j := make(map[rune][]int)
	for j, c := range r {
		b2j[c] = append(b2j[c], j)
	}
	return &Sequence{runes: r, b2j: b2j}
}

// Len returns the length in runes.
func (s *Sequence) Len() int { return len(s.runes) }

// LexicalRatio scores two texts by Ratcliff/Obershelp sequence alignment on
// lower-cased runes: 2·M / (|a|+|b|), where M is the number of characters in
// the recursively found longest matching blocks. Two empty texts score 1.
func LexicalRatio(a, b string) float64 {
	return NewSequence(a).Ratio(NewSequence(b))
}

// Ratio is LexicalRatio over prepared sequences.
func (s *Sequence) Ratio(other *Sequence) float64 {
	total := len(s.runes) + len(other.runes)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(s.runes, other)) / float64(total)
}

type span struct {
	alo, ahi, blo, bhi int
}

// matcher holds the two dynamic-programming rows reused by every
// longestMatch call for one pair. Rows are indexed by j+1 and only the
// positions listed in the matching set are ever non-zero.
type matcher struct {
	a       []rune
	b2j     map[rune][]int
	prev    []int
	cur     []int
	prevSet []int
	curSet  []int
}

// matchingRunes sums the sizes of all matching blocks between a and b.
func matchingRunes(a []rune, b *Sequence) int {
	m := &matcher{
		a:    a,
		b2j:  b.b2j,
		prev: make([]int, len(b.runes)+1),
		cur:  make([]int, len(b.runes)+1),
	}

	matched := 0
	queue := []span{{0, len(a), 0, len(b.runes)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := m.longestMatch(s)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] inside s.
// Ties resolve to the earliest i, then the earliest j.
func (m *matcher) longestMatch(s span) (int, int, int) {
	besti, bestj, bestk := s.alo, s.blo, 0
	for i := s.alo; i < s.ahi; i++ {
		for _, j := range m.b2j[m.a[i]] {
			if j < s.blo {
				continue
			}
			if j >= s.bhi {
				break
			}
			k := m.prev[j] + 1
			m.cur[j+1] = k
			m.curSet = append(m.curSet, j+1)
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		m.clear(m.prev, m.prevSet)
		m.prev, m.cur = m.cur, m.prev
		m.prevSet, m.curSet = m.curSet, m.prevSet[:0]
	}
	m.clear(m.prev, m.prevSet)
	m.prevSet = m.prevSet[:0]
	return besti, bestj, bestk
}

func (m *matcher) clear(row, set []int) {
	for _, idx := range set {
		row[idx] = 0
	}
}
