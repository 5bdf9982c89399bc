// Package book implements the price level container: an ordered sequence
// of resting orders at one price, supporting O(1) push_back, O(1)
// cancel-from-middle given a handle, and O(1) peek_front.
//
// A container/heap-backed slice of orders cannot remove from the middle
// in O(1). Resting orders instead live in an arena and are linked by
// index rather than by pointer, so a handle survives slice reallocation
// and cancellation never shifts other orders.
package book

import "fenrir/internal/common"

// Handle addresses a single resting order inside a PriceLevel's arena.
// The zero Handle is never valid; valid handles start at 1.
type Handle uint32

type node struct {
	order    *common.Order
	prev     Handle
	next     Handle
	inUse    bool
}

// PriceLevel is a (symbol, side, price) triple owning a FIFO queue of
// resting orders, ordered strictly by arrival_seq ascending.
type PriceLevel struct {
	Price int64

	arena    []node
	freeList []Handle
	head     Handle
	tail     Handle
	residual uint64
	count    int
}

// NewPriceLevel creates an empty price level at the given price.
func NewPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{
		Price: price,
		arena: make([]node, 0, 4),
	}
}

// PushBack inserts order at the tail of the FIFO and returns its handle.
func (l *PriceLevel) PushBack(order *common.Order) Handle {
	h := l.alloc(order)
	n := &l.arena[h-1]
	n.prev = l.tail
	n.next = 0
	if l.tail != 0 {
		l.arena[l.tail-1].next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.residual += order.Residual()
	l.count++
	return h
}

// alloc reuses a freed slot if one exists, otherwise grows the arena.
func (l *PriceLevel) alloc(order *common.Order) Handle {
	if n := len(l.freeList); n > 0 {
		h := l.freeList[n-1]
		l.freeList = l.freeList[:n-1]
		l.arena[h-1] = node{order: order, inUse: true}
		return h
	}
	l.arena = append(l.arena, node{order: order, inUse: true})
	return Handle(len(l.arena))
}

// PeekFront returns the order currently at the head of the FIFO, if any.
func (l *PriceLevel) PeekFront() (*common.Order, Handle, bool) {
	if l.head == 0 {
		return nil, 0, false
	}
	return l.arena[l.head-1].order, l.head, true
}

// Cancel removes the order addressed by h from anywhere in the level in
// O(1), relinking neighbours and reclaiming the slot.
func (l *PriceLevel) Cancel(h Handle) (*common.Order, bool) {
	if h == 0 || int(h) > len(l.arena) || !l.arena[h-1].inUse {
		return nil, false
	}
	n := &l.arena[h-1]
	order := n.order

	if n.prev != 0 {
		l.arena[n.prev-1].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != 0 {
		l.arena[n.next-1].prev = n.prev
	} else {
		l.tail = n.prev
	}

	l.residual -= order.Residual()
	l.count--
	n.inUse = false
	n.order = nil
	l.freeList = append(l.freeList, h)
	return order, true
}

// PopFrontIfDepleted removes the head order if its residual has reached
// zero (fully matched) and reports whether the level is now empty.
func (l *PriceLevel) PopFrontIfDepleted() (emptied bool) {
	head, h, ok := l.PeekFront()
	if !ok || head.Residual() > 0 {
		return l.count == 0
	}
	l.Cancel(h)
	return l.count == 0
}

// ReduceResidual is called after a fill mutates a resting order's Filled,
// to keep the level's advertised volume correct.
func (l *PriceLevel) ReduceResidual(qty uint64) {
	l.residual -= qty
}

// TotalResidual is the sum of residual quantity across every order resting
// in this level.
func (l *PriceLevel) TotalResidual() uint64 { return l.residual }

// Count is the number of resting orders in this level.
func (l *PriceLevel) Count() int { return l.count }

// Empty reports whether the level holds no resting orders.
func (l *PriceLevel) Empty() bool { return l.count == 0 }

// Orders returns the resting orders in FIFO order. Intended for snapshots
// and tests; not on the matching hot path.
func (l *PriceLevel) Orders() []*common.Order {
	out := make([]*common.Order, 0, l.count)
	for h := l.head; h != 0; h = l.arena[h-1].next {
		out = append(out, l.arena[h-1].order)
	}
	return out
}
