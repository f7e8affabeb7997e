package backend

import (
	"github.com/lodestone-search/lodestone/internal/btree"
)

// SynonymTable stores, per term, a sorted deduplicated list of synonyms as
// length-prefixed strings.
type SynonymTable struct {
	table *btree.Table
}

func synonymKey(term string) []byte {
	return append([]byte(nil), term...)
}

// Add records synonym for term.
func (s *SynonymTable) Add(term, synonym string) error {
	words, err := s.readList(term)
	if err != nil {
		return err
	}
	for _, w := range words {
		if w == synonym {
			return nil
		}
	}
	return s.table.Add(synonymKey(term), encodeWordList(append(words, synonym)))
}

// Remove drops synonym from term's list; removing the last entry removes
// the term.
func (s *SynonymTable) Remove(term, synonym string) error {
	words, err := s.readList(term)
	if err != nil {
		return err
	}
	kept := words[:0]
	for _, w := range words {
		if w != synonym {
			kept = append(kept, w)
		}
	}
	if len(kept) == len(words) {
		return nil
	}
	if len(kept) == 0 {
		_, err := s.table.Del(synonymKey(term))
		return err
	}
	return s.table.Add(synonymKey(term), encodeWordList(kept))
}

// Clear removes every synonym for term.
func (s *SynonymTable) Clear(term string) error {
	_, err := s.table.Del(synonymKey(term))
	return err
}

// Get returns term's synonyms in sorted order.
func (s *SynonymTable) Get(term string) ([]string, error) {
	return s.readList(term)
}

// Exists reports whether term has any synonyms.
func (s *SynonymTable) Exists(term string) (bool, error) {
	_, found, err := s.table.GetExact(synonymKey(term))
	return found, err
}

// HasKeyWithPrefix reports whether any term with stored synonyms starts
// with prefix.
func (s *SynonymTable) HasKeyWithPrefix(prefix string) (bool, error) {
	c := s.table.Cursor()
	if _, err := c.FindEntryGE([]byte(prefix)); err != nil {
		return false, err
	}
	if c.AfterEnd() {
		return false, nil
	}
	key, err := c.CurrentKey()
	if err != nil {
		return false, err
	}
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == prefix, nil
}

func (s *SynonymTable) readList(term string) ([]string, error) {
	data, found, err := s.table.GetExact(synonymKey(term))
	if err != nil || !found {
		return nil, err
	}
	return decodeWordList(data)
}
