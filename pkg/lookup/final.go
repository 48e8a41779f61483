package lookup

// finalRule is one row of the decision table applied once the whole path
// has been matched. when selects the row from the request flags; apply
// either produces the terminal reply (done == true) or lets evaluation fall
// through to the next row.
type finalRule struct {
	name  string
	when  func(Flags) bool
	apply func(w *walk) (reply Reply, done bool)
}

// finalRules is evaluated top to bottom. The order is the precedence.
var finalRules = []finalRule{
	{
		name: "parent",
		when: func(f Flags) bool { return f.Has(FlagParent) },
		apply: func(w *walk) (Reply, bool) {
			if !w.h.promoteParent() {
				return Failure(StatusNotFound), true
			}
			return Reply{}, false
		},
	},
	{
		name: "unlink",
		when: func(f Flags) bool { return f.Has(FlagUnlink) },
		apply: func(w *walk) (Reply, bool) {
			n := w.h.current.node
			linkCount := w.ops.LinkCountGet(n)
			status := w.ops.Unlink(w.h.parent.node, n)
			reply := w.describe(n)
			reply.Status = status
			reply.LinkCount = linkCount
			return reply, true
		},
	},
	{
		name: "exists",
		when: func(f Flags) bool { return f.Has(FlagCreate|FlagExclusive) || f.Has(FlagLink) },
		apply: func(w *walk) (Reply, bool) {
			return Failure(StatusExists), true
		},
	},
	{
		name: "want-file",
		when: func(f Flags) bool { return f.Has(FlagFile) },
		apply: func(w *walk) (Reply, bool) {
			if w.ops.IsDirectory(w.h.current.node) {
				return Failure(StatusIsDirectory), true
			}
			return Reply{}, false
		},
	},
	{
		name: "want-directory",
		when: func(f Flags) bool { return f.Has(FlagDirectory) },
		apply: func(w *walk) (Reply, bool) {
			if w.ops.IsFile(w.h.current.node) {
				return Failure(StatusNotDirectory), true
			}
			return Reply{}, false
		},
	},
}

// finish resolves a fully matched path.
func (w *walk) finish() Reply {
	for _, rule := range finalRules {
		if !rule.when(w.req.Flags) {
			continue
		}
		if reply, done := rule.apply(w); done {
			w.rule = rule.name
			return reply
		}
	}
	w.rule = "found"
	return w.describe(w.h.current.node)
}
