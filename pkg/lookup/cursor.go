package lookup

import "github.com/marmos91/libfs/pkg/plb"

// DefaultNameMax matches NAME_MAX. A component may hold at most
// NameMax-1 bytes.
const DefaultNameMax = 255

// cursor consumes a path range from the PLB.
type cursor struct {
	buf  plb.Reader
	next uint64
	last uint64
}

func newCursor(buf plb.Reader, rng plb.Range) cursor {
	next, last := rng.Unwrap(buf.Size())
	return cursor{buf: buf, next: next, last: last}
}

// more reports whether unconsumed characters remain.
func (c *cursor) more() bool {
	return c.next <= c.last
}

func (c *cursor) peek() byte {
	return c.buf.CharAt(c.next)
}

// skipSeparator eats one '/' if the cursor is on one.
func (c *cursor) skipSeparator() {
	if c.more() && c.peek() == '/' {
		c.next++
	}
}

// component collects characters up to the next separator or the end of the
// range, then steps over the separator.
func (c *cursor) component(nameMax int) (string, Status) {
	name := make([]byte, 0, 32)
	for c.more() && c.peek() != '/' {
		if len(name)+1 >= nameMax {
			return "", StatusNameTooLong
		}
		name = append(name, c.peek())
		c.next++
	}
	if len(name) == 0 {
		return "", StatusInvalid
	}
	c.next++
	return string(name), StatusOK
}

// finalComponent collects the rest of the range as a single component. A
// separator means more than one component is pending.
func (c *cursor) finalComponent(nameMax int) (string, Status) {
	name := make([]byte, 0, 32)
	for c.more() {
		ch := c.peek()
		if ch == '/' {
			return "", StatusNotFound
		}
		if len(name)+1 >= nameMax {
			return "", StatusNameTooLong
		}
		name = append(name, ch)
		c.next++
	}
	if len(name) == 0 {
		return "", StatusInvalid
	}
	return string(name), StatusOK
}
