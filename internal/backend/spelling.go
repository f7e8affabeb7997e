package backend

import (
	"sort"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// SpellingTable indexes words for correction suggestions:
//
//	'W' word     → Uint(freq)
//	'T' trigram  → length-prefixed sorted word list
//
// Suggestion lookup gathers candidates sharing trigrams with the target,
// keeps those within edit distance 2, and picks the one with the smallest
// distance, the most frequent winning among equally distant candidates.
type SpellingTable struct {
	table *btree.Table
}

func spellingWordKey(word string) []byte {
	return append([]byte{'W'}, word...)
}

func spellingTrigramKey(tri string) []byte {
	return append([]byte{'T'}, tri...)
}

// trigrams returns the padded trigram set of word: a leading and trailing
// sentinel make short words indexable.
func trigrams(word string) []string {
	padded := "\x01" + word + "\x02"
	if len(padded) < 3 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for i := 0; i+3 <= len(padded); i++ {
		t := padded[i : i+3]
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// AddWord raises word's frequency by freqinc, indexing its trigrams on
// first appearance.
func (s *SpellingTable) AddWord(word string, freqinc uint64) error {
	if word == "" {
		return errors.New(errors.ErrInvalidArgument, "empty spelling word")
	}
	key := spellingWordKey(word)
	data, found, err := s.table.GetExact(key)
	if err != nil {
		return err
	}
	var freq uint64
	if found {
		freq, _, _ = pack.Uint(data)
	}
	if err := s.table.Add(key, pack.AppendUint(nil, freq+freqinc)); err != nil {
		return err
	}
	if found {
		return nil
	}
	for _, tri := range trigrams(word) {
		if err := s.addToWordList(spellingTrigramKey(tri), word); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWord lowers word's frequency, dropping it entirely at zero.
func (s *SpellingTable) RemoveWord(word string, freqdec uint64) error {
	key := spellingWordKey(word)
	data, found, err := s.table.GetExact(key)
	if err != nil || !found {
		return err
	}
	freq, _, _ := pack.Uint(data)
	if freq > freqdec {
		return s.table.Add(key, pack.AppendUint(nil, freq-freqdec))
	}
	if _, err := s.table.Del(key); err != nil {
		return err
	}
	for _, tri := range trigrams(word) {
		if err := s.removeFromWordList(spellingTrigramKey(tri), word); err != nil {
			return err
		}
	}
	return nil
}

// WordFreq returns word's recorded frequency.
func (s *SpellingTable) WordFreq(word string) (uint64, error) {
	data, found, err := s.table.GetExact(spellingWordKey(word))
	if err != nil || !found {
		return 0, err
	}
	freq, _, ok := pack.Uint(data)
	if !ok {
		return 0, errors.New(errors.ErrDatabaseCorrupt, "spelling frequency corrupt")
	}
	return freq, nil
}

// Suggest returns the best correction for word within edit distance 2, or
// "" when nothing qualifies. An exact dictionary hit suggests nothing.
func (s *SpellingTable) Suggest(word string) (string, error) {
	if freq, err := s.WordFreq(word); err != nil {
		return "", err
	} else if freq > 0 {
		return "", nil
	}
	candidates := make(map[string]bool)
	for _, tri := range trigrams(word) {
		words, err := s.readWordList(spellingTrigramKey(tri))
		if err != nil {
			return "", err
		}
		for _, w := range words {
			candidates[w] = true
		}
	}
	best := ""
	var bestFreq uint64
	bestDist := 3
	for cand := range candidates {
		d := editDistance(word, cand, 2)
		if d > 2 {
			continue
		}
		freq, err := s.WordFreq(cand)
		if err != nil {
			return "", err
		}
		if d < bestDist || (d == bestDist && freq > bestFreq) {
			best, bestFreq, bestDist = cand, freq, d
		}
	}
	return best, nil
}

func (s *SpellingTable) readWordList(key []byte) ([]string, error) {
	data, found, err := s.table.GetExact(key)
	if err != nil || !found {
		return nil, err
	}
	return decodeWordList(data)
}

func decodeWordList(data []byte) ([]string, error) {
	var words []string
	for len(data) > 0 {
		w, n, ok := pack.String(data)
		if !ok {
			return nil, errors.New(errors.ErrDatabaseCorrupt, "word list corrupt")
		}
		words = append(words, string(w))
		data = data[n:]
	}
	return words, nil
}

func encodeWordList(words []string) []byte {
	sort.Strings(words)
	var buf []byte
	for _, w := range words {
		buf = pack.AppendString(buf, []byte(w))
	}
	return buf
}

func (s *SpellingTable) addToWordList(key []byte, word string) error {
	words, err := s.readWordList(key)
	if err != nil {
		return err
	}
	for _, w := range words {
		if w == word {
			return nil
		}
	}
	return s.table.Add(key, encodeWordList(append(words, word)))
}

func (s *SpellingTable) removeFromWordList(key []byte, word string) error {
	words, err := s.readWordList(key)
	if err != nil {
		return err
	}
	kept := words[:0]
	for _, w := range words {
		if w != word {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		_, err := s.table.Del(key)
		return err
	}
	return s.table.Add(key, encodeWordList(kept))
}

// editDistance computes Levenshtein distance, giving up early once the
// distance must exceed limit.
func editDistance(a, b string, limit int) int {
	if abs(len(a)-len(b)) > limit {
		return limit + 1
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
