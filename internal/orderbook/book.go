// Package orderbook implements the per-instrument price ladder: an
// ordered-key structure over price levels, each a FIFO queue of
// resting orders. It is the sole owner of its internal index; callers
// outside the matching engine never read or mutate the ladders
// directly (spec.md §5).
package orderbook

import (
	"container/list"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/kairoex/matching-core/internal/domain"
)

const btreeDegree = 32

// level is one price rung: an ordered (arrival-order) queue of
// resting orders sharing Price.
type level struct {
	price  decimal.Decimal
	orders *list.List // of *domain.Order, time priority = list order
}

// ascItem orders levels by increasing price — the ask ladder's native
// order, so Min() returns the best ask.
type ascItem struct{ *level }

func (a ascItem) Less(than btree.Item) bool {
	return a.price.LessThan(than.(ascItem).price)
}

// descItem orders levels by decreasing price — the bid ladder's
// native order, so Min() on a tree of descItems returns the best bid
// (the highest price).
type descItem struct{ *level }

func (d descItem) Less(than btree.Item) bool {
	return d.price.GreaterThan(than.(descItem).price)
}

// index entry: where an order_id currently sits, so Remove is O(1).
type locator struct {
	side domain.Side
	lvl  *level
	elem *list.Element
}

// Book is one instrument's order book: two half-books (bid and ask
// ladders) plus the order_id → location index noted in spec.md §9.
type Book struct {
	Instrument string

	bids *btree.BTree // of descItem
	asks *btree.BTree // of ascItem

	byID map[string]*locator
}

// New creates an empty book for instrument.
func New(instrument string) *Book {
	return &Book{
		Instrument: instrument,
		bids:       btree.New(btreeDegree),
		asks:       btree.New(btreeDegree),
		byID:       make(map[string]*locator),
	}
}

func (b *Book) ladder(side domain.Side) *btree.BTree {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) findLevel(side domain.Side, price decimal.Decimal) *level {
	if side == domain.SideBuy {
		probe := descItem{&level{price: price}}
		if got := b.bids.Get(probe); got != nil {
			return got.(descItem).level
		}
		return nil
	}
	probe := ascItem{&level{price: price}}
	if got := b.asks.Get(probe); got != nil {
		return got.(ascItem).level
	}
	return nil
}

func (b *Book) insertLevel(side domain.Side, lvl *level) {
	if side == domain.SideBuy {
		b.bids.ReplaceOrInsert(descItem{lvl})
	} else {
		b.asks.ReplaceOrInsert(ascItem{lvl})
	}
}

func (b *Book) deleteLevel(side domain.Side, lvl *level) {
	if side == domain.SideBuy {
		b.bids.Delete(descItem{lvl})
	} else {
		b.asks.Delete(ascItem{lvl})
	}
}

// Insert adds a resting order to the correct ladder/level, creating
// the level if absent, appended at the tail for time priority
// (spec.md §4.1).
func (b *Book) Insert(o *domain.Order) {
	lvl := b.findLevel(o.Side, o.Price)
	if lvl == nil {
		lvl = &level{price: o.Price, orders: list.New()}
		b.insertLevel(o.Side, lvl)
	}
	elem := lvl.orders.PushBack(o)
	b.byID[o.OrderID] = &locator{side: o.Side, lvl: lvl, elem: elem}
}

// Remove removes an order by id in O(1). The level is dropped the
// instant it becomes empty; a residual empty level is a forbidden
// state (spec.md §4.1).
func (b *Book) Remove(orderID string) (*domain.Order, bool) {
	loc, ok := b.byID[orderID]
	if !ok {
		return nil, false
	}
	delete(b.byID, orderID)
	o := loc.elem.Value.(*domain.Order)
	loc.lvl.orders.Remove(loc.elem)
	if loc.lvl.orders.Len() == 0 {
		b.deleteLevel(loc.side, loc.lvl)
	}
	return o, true
}

// PeekBest returns the head order of the best level on side, or nil
// if that side is empty. The head of a level's queue is always its
// earliest-arrival order (spec.md §4.2 tie-break rule).
func (b *Book) PeekBest(side domain.Side) *domain.Order {
	var top btree.Item
	if side == domain.SideBuy {
		top = b.bids.Min()
	} else {
		top = b.asks.Min()
	}
	if top == nil {
		return nil
	}
	var lvl *level
	if side == domain.SideBuy {
		lvl = top.(descItem).level
	} else {
		lvl = top.(ascItem).level
	}
	front := lvl.orders.Front()
	if front == nil {
		return nil // unreachable: empty levels are removed eagerly
	}
	return front.Value.(*domain.Order)
}

// BestPrice returns the best price on side and whether that side is
// non-empty.
func (b *Book) BestPrice(side domain.Side) (decimal.Decimal, bool) {
	o := b.PeekBest(side)
	if o == nil {
		return decimal.Zero, false
	}
	return o.Price, true
}

// Empty reports whether side has no resting orders.
func (b *Book) Empty(side domain.Side) bool {
	return b.ladder(side).Len() == 0
}

// Snapshot returns the aggregated top-N view of the book, linear
// scanning each ladder — the one operation spec.md §4.1 permits a full
// ladder walk for.
func (b *Book) Snapshot(levels int) domain.BookSnapshot {
	snap := domain.BookSnapshot{Instrument: b.Instrument}
	snap.Bids = aggregate(b.bids, levels, func(i btree.Item) *level { return i.(descItem).level })
	snap.Asks = aggregate(b.asks, levels, func(i btree.Item) *level { return i.(ascItem).level })
	return snap
}

func aggregate(tree *btree.BTree, levels int, unwrap func(btree.Item) *level) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, levels)
	cumulative := decimal.Zero
	tree.Ascend(func(item btree.Item) bool {
		if len(out) >= levels {
			return false
		}
		lvl := unwrap(item)
		qty := decimal.Zero
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			qty = qty.Add(e.Value.(*domain.Order).Remaining())
		}
		cumulative = cumulative.Add(qty)
		out = append(out, domain.PriceLevel{Price: lvl.price, Quantity: qty, Cumulative: cumulative})
		return true
	})
	return out
}

// Order looks up a resident order by id without removing it.
func (b *Book) Order(orderID string) (*domain.Order, bool) {
	loc, ok := b.byID[orderID]
	if !ok {
		return nil, false
	}
	return loc.elem.Value.(*domain.Order), true
}

// Len returns the number of resting orders across both ladders.
func (b *Book) Len() int {
	return len(b.byID)
}
