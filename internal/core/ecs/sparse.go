package ecs

const (
	sparsePageBits = 10
	sparsePageSize = 1 << sparsePageBits
	sparsePageMask = sparsePageSize - 1
)

// sparseIndex maps entity keys to container slots. Pages are allocated on
// first write so sparse key ranges stay cheap. Stored values are slot+1.
type sparseIndex struct {
	pages [][]uint32
}

func (s *sparseIndex) get(key uint32) (int, bool) {
	page := key >> sparsePageBits
	if int(page) >= len(s.pages) || s.pages[page] == nil {
		return 0, false
	}
	value := s.pages[page][key&sparsePageMask]
	if value == 0 {
		return 0, false
	}
	return int(value - 1), true
}

func (s *sparseIndex) set(key uint32, slot int) {
	page := key >> sparsePageBits
	for int(page) >= len(s.pages) {
		s.pages = append(s.pages, nil)
	}
	if s.pages[page] == nil {
		s.pages[page] = make([]uint32, sparsePageSize)
	}
	s.pages[page][key&sparsePageMask] = uint32(slot + 1)
}

func (s *sparseIndex) delete(key uint32) {
	page := key >> sparsePageBits
	if int(page) < len(s.pages) && s.pages[page] != nil {
		s.pages[page][key&sparsePageMask] = 0
	}
}

func (s *sparseIndex) reset() {
	for _, page := range s.pages {
		clear(page)
	}
}
