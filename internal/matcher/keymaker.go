package matcher

// KeyMaker maps a document to a byte-string sort key. Keys compare
// bytewise, larger first in the result order.
type KeyMaker interface {
	MakeKey(db Source, did uint32) ([]byte, error)
}

// SlotSpec names one value slot of a multi-slot sort key; Reverse flips the
// slot's direction.
type SlotSpec struct {
	Slot    uint32
	Reverse bool
}

// MultiValueKeyMaker builds sort keys by concatenating value slots. Each
// component is escaped so earlier slots dominate the comparison: 0x00
// becomes 0x00 0xff (0xff 0x00 for reversed slots, whose bytes are also
// inverted), and components are separated by 0x00 0x00.
type MultiValueKeyMaker struct {
	slots []SlotSpec
}

// NewMultiValueKeyMaker returns a key maker over the given slots in order.
func NewMultiValueKeyMaker(slots ...SlotSpec) *MultiValueKeyMaker {
	return &MultiValueKeyMaker{slots: slots}
}

// Add appends another slot component.
func (m *MultiValueKeyMaker) Add(slot uint32, reverse bool) {
	m.slots = append(m.slots, SlotSpec{Slot: slot, Reverse: reverse})
}

func (m *MultiValueKeyMaker) MakeKey(db Source, did uint32) ([]byte, error) {
	var key []byte
	for i, spec := range m.slots {
		if i > 0 {
			key = append(key, 0, 0)
		}
		v, err := db.Value(did, spec.Slot)
		if err != nil {
			return nil, err
		}
		for _, c := range v {
			if spec.Reverse {
				c = 0xff - c
			}
			if c == 0 {
				if spec.Reverse {
					key = append(key, 0xff, 0)
				} else {
					key = append(key, 0, 0xff)
				}
			} else {
				key = append(key, c)
			}
		}
		if spec.Reverse {
			// An absent or short value must sort late under reversal.
			key = append(key, 0xff)
		}
	}
	return key, nil
}
