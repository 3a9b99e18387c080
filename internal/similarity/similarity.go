package similarity

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultDedupeThreshold  = 0.85
	CompressDedupeThreshold = 0.8
	CompressGroupThreshold  = 0.7
	maxAlsoWords            = 5
	minAlsoWordLen          = 3
	minAlsoInfoLen          = 11
)

// Levenshtein returns the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	left := []rune(a)
	right := []rune(b)
	if len(left) == 0 {
		return len(right)
	}
	if len(right) == 0 {
		return len(left)
	}

	previous := make([]int, len(right)+1)
	current := make([]int, len(right)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(left); i++ {
		current[0] = i
		for j := 1; j <= len(right); j++ {
			cost := 1
			if left[i-1] == right[j-1] {
				cost = 0
			}
			current[j] = minInt(minInt(previous[j]+1, current[j-1]+1), previous[j-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(right)]
}

// Ratio is 1 minus the edit distance normalised by the longer input, so
// identical strings score 1 and disjoint strings approach 0.
func Ratio(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if count := utf8.RuneCountInString(b); count > longest {
		longest = count
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

func IsDuplicate(a, b string, threshold float64) bool {
	return Ratio(a, b) >= threshold
}

// Dedupe keeps the first occurrence of every near-duplicate cluster. Running
// it twice with the same threshold returns the same list.
func Dedupe(items []string, threshold float64) []string {
	if len(items) <= 1 {
		return append([]string(nil), items...)
	}
	unique := make([]string, 0, len(items))
	for _, item := range items {
		duplicate := false
		for _, kept := range unique {
			if IsDuplicate(kept, item, threshold) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unique = append(unique, item)
		}
	}
	return unique
}

// Merge collapses near-duplicates, keeping whichever variant scores higher.
// Order follows the first appearance of each cluster.
func Merge[T any](items []T, text func(T) string, score func(T) float64, threshold float64) []T {
	merged := make([]T, 0, len(items))
	for _, item := range items {
		index := -1
		for existing := range merged {
			if IsDuplicate(text(merged[existing]), text(item), threshold) {
				index = existing
				break
			}
		}
		if index < 0 {
			merged = append(merged, item)
			continue
		}
		if score(item) > score(merged[index]) {
			merged[index] = item
		}
	}
	return merged
}

// Compress dedupes, folds similar entries into their shortest member and then
// drops entries from the end until the joined length fits maxChars.
func Compress(items []string, maxChars int) []string {
	if len(items) == 0 {
		return nil
	}
	grouped := group(Dedupe(items, CompressDedupeThreshold), CompressGroupThreshold)
	if maxChars <= 0 {
		return nil
	}
	if len(strings.Join(grouped, " ")) <= maxChars {
		return grouped
	}
	compressed := make([]string, 0, len(grouped))
	used := 0
	for _, item := range grouped {
		if used+len(item)+1 > maxChars {
			break
		}
		compressed = append(compressed, item)
		used += len(item) + 1
	}
	return compressed
}

func group(items []string, threshold float64) []string {
	groups := [][]string{}
	for _, item := range items {
		placed := false
		for index := range groups {
			if Ratio(groups[index][0], item) >= threshold {
				groups[index] = append(groups[index], item)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []string{item})
		}
	}

	out := make([]string, 0, len(groups))
	for _, members := range groups {
		if len(members) == 1 {
			out = append(out, members[0])
			continue
		}
		shortest := members[0]
		for _, member := range members[1:] {
			if len(member) < len(shortest) {
				shortest = member
			}
		}
		extras := []string{}
		for _, member := range members {
			if member == shortest {
				continue
			}
			if info := uniqueWords(member, shortest); len(info) >= minAlsoInfoLen {
				extras = append(extras, info)
			}
		}
		if len(extras) == 0 {
			out = append(out, shortest)
			continue
		}
		out = append(out, shortest+" (also: "+strings.Join(extras, "; ")+")")
	}
	return out
}

func uniqueWords(candidate, base string) string {
	seen := map[string]struct{}{}
	for _, word := range strings.Fields(strings.ToLower(base)) {
		seen[word] = struct{}{}
	}
	words := []string{}
	for _, word := range strings.Fields(strings.ToLower(candidate)) {
		if _, ok := seen[word]; ok || utf8.RuneCountInString(word) < minAlsoWordLen {
			continue
		}
		words = append(words, word)
		if len(words) == maxAlsoWords {
			break
		}
	}
	return strings.Join(words, " ")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
