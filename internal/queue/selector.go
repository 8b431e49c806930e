package queue

// Pos is a position selector for the queue: either a symbolic end ("front",
// "back") or an arbitrary signed integer. "front" is index 0, "back" is
// append/last, and negative integers index from the back.
type Pos struct {
	symbol string // "front", "back", or "" when N is used
	n      int
	set    bool
}

// PosFront selects the front of the queue (index 0).
func PosFront() Pos { return Pos{symbol: "front", set: true} }

// PosBack selects the back of the queue (append/last).
func PosBack() Pos { return Pos{symbol: "back", set: true} }

// PosInt selects an arbitrary integer position; negative values index from
// the back.
func PosInt(n int) Pos { return Pos{n: n, set: true} }

// Where selects an insertion point for Add: exactly one field may be set.
// The zero value selects back, the same as an unset position.
type Where struct {
	Pos       Pos
	BeforeUID string
	AfterUID  string
}

func (w Where) selectorCount() int {
	n := 0
	if w.Pos.set {
		n++
	}
	if w.BeforeUID != "" {
		n++
	}
	if w.AfterUID != "" {
		n++
	}
	return n
}

// Selector addresses a single existing item by position or by uid, used by
// Get and Remove. Exactly one of Pos/UID may be set.
type Selector struct {
	Pos Pos
	UID string
}

func (s Selector) selectorCount() int {
	n := 0
	if s.Pos.set {
		n++
	}
	if s.UID != "" {
		n++
	}
	return n
}

// MoveSrc addresses the item to move: position or uid.
type MoveSrc struct {
	Pos Pos
	UID string
}

func (s MoveSrc) selectorCount() int {
	n := 0
	if s.Pos.set {
		n++
	}
	if s.UID != "" {
		n++
	}
	return n
}

// MoveDst addresses the destination for a move: a destination position, or
// before/after an existing uid.
type MoveDst struct {
	PosDest   Pos
	BeforeUID string
	AfterUID  string
}

func (d MoveDst) selectorCount() int {
	n := 0
	if d.PosDest.set {
		n++
	}
	if d.BeforeUID != "" {
		n++
	}
	if d.AfterUID != "" {
		n++
	}
	return n
}

// resolveInsertIndex converts a Pos into an insertion index in [0, n],
// clamping out-of-range integers to the nearest end. A negative integer -k
// inserts before the k-th item from the back (-1 lands just ahead of the
// current last item).
func resolveInsertIndex(p Pos, n int) int {
	if !p.set || p.symbol == "back" {
		return n
	}
	if p.symbol == "front" {
		return 0
	}
	idx := p.n
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 {
		return 0
	}
	if idx > n {
		return n
	}
	return idx
}

// resolveSelectIndex converts a Pos into an existing-item index in [0, n),
// failing (rather than clamping) when out of range: clamp on add, fail on
// get/remove.
func resolveSelectIndex(p Pos, n int) (int, bool) {
	var idx int
	switch {
	case p.symbol == "front":
		idx = 0
	case p.symbol == "back":
		idx = n - 1
	default:
		idx = p.n
		if idx < 0 {
			idx = n + idx
		}
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
