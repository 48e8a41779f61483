package lookup

// slot owns at most one borrowed node handle.
type slot struct {
	node Node
}

func (s *slot) held() bool {
	return s.node != nil
}

// set stores n in an empty slot.
func (s *slot) set(n Node) {
	if s.node != nil {
		panic("lookup: overwriting a held node handle")
	}
	s.node = n
}

// take moves the handle out of the slot, leaving it empty. The caller
// becomes responsible for giving it back.
func (s *slot) take() Node {
	n := s.node
	s.node = nil
	return n
}

// put gives the handle back to the back-end, if one is held.
func (s *slot) put(ops Ops) {
	if n := s.take(); n != nil {
		ops.NodePut(n)
	}
}

// handles is the walk's accumulator state. Whatever is still held when the
// walk ends is released by release, which Resolve defers.
type handles struct {
	ops       Ops
	parent    slot
	current   slot
	candidate slot
}

func (h *handles) release() {
	h.parent.put(h.ops)
	h.current.put(h.ops)
	h.candidate.put(h.ops)
}

// descend makes current the new parent and the matched candidate the new
// current, giving back the old parent.
func (h *handles) descend() {
	h.parent.put(h.ops)
	h.parent.set(h.current.take())
	h.current.set(h.candidate.take())
}

// promoteParent replaces current with parent. It reports false when there
// is no parent, in which case current has been released and is empty.
func (h *handles) promoteParent() bool {
	h.current.put(h.ops)
	h.current.set(h.parent.take())
	return h.current.held()
}
