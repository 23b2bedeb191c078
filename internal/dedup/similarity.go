// Package dedup implements the three-tier duplicate detection and cluster-id
// assignment for incoming articles.
package dedup

import (
	"strings"
	"unicode"
)

// Similarity returns the Jaro-Winkler similarity of two headlines after
// normalization, in [0, 1]. Jaro-Winkler tolerates the abbreviation and
// reordering patterns wire headlines exhibit ("Fed" vs "Federal Reserve")
// better than a plain Levenshtein ratio.
func Similarity(a, b string) float64 {
	return jaroWinkler(normalizeForSimilarity(a), normalizeForSimilarity(b))
}

// normalizeForSimilarity lowercases, strips everything but letters, digits,
// and spaces, and collapses runs of whitespace.
func normalizeForSimilarity(s string) []rune {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return []rune(strings.TrimRight(sb.String(), " "))
}

const winklerPrefixScale = 0.1

func jaroWinkler(s1, s2 []rune) float64 {
	j := jaro(s1, s2)
	prefix := 0
	for i := 0; i < len(s1) && i < len(s2) && prefix < 4; i++ {
		if s1[i] != s2[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*winklerPrefixScale*(1-j)
}

func jaro(s1, s2 []rune) float64 {
	l1, l2 := len(s1), len(s2)
	if l1 == 0 || l2 == 0 {
		if l1 == l2 {
			return 1
		}
		return 0
	}
	window := max(l1, l2)/2 - 1
	if window < 0 {
		window = 0
	}

	matched1 := make([]bool, l1)
	matched2 := make([]bool, l2)
	matches := 0
	for i, c := range s1 {
		lo := max(0, i-window)
		hi := min(l2, i+window+1)
		for j := lo; j < hi; j++ {
			if !matched2[j] && s2[j] == c {
				matched1[i] = true
				matched2[j] = true
				matches++
				break
			}
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < l1; i++ {
		if !matched1[i] {
			continue
		}
		for !matched2[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	return (m/float64(l1) + m/float64(l2) + (m-float64(transpositions))/m) / 3
}
