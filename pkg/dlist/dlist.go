// pkg/dlist/dlist.go

// Package dlist implements a circular, sentinel-rooted intrusive
// doubly-linked list. Elem is meant to be embedded by value in a
// containing struct; the list itself never allocates or owns payloads,
// only links. Not safe for concurrent use — higher layers add locking.
package dlist

// Elem is one link in the list. Embed it in the struct you want to make
// listable. The zero value is a detached element.
//
// Owner lets callers recover the embedding struct from an *Elem returned
// by Front/Back/Find/Next without resorting to unsafe pointer arithmetic:
// set it once, right after constructing the embedding struct, to that
// struct's own address.
type Elem struct {
	next, prev *Elem
	Owner      any
}

// linked reports whether e is currently part of some list.
func (e *Elem) linked() bool {
	return e.next != nil
}

// List is a circular, sentinel-rooted doubly-linked list of *Elem.
// On an empty list both sentinel links point to the sentinel itself.
type List struct {
	root Elem
}

// Init (re)initializes l as an empty list. Must be called before use;
// the zero value of List is not ready to use.
func (l *List) Init() *List {
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// Empty reports whether the list has no elements.
func (l *List) Empty() bool {
	return l.root.next == &l.root
}

func (l *List) insertAfter(at, e *Elem) {
	e.prev = at
	e.next = at.next
	at.next.prev = e
	at.next = e
}

// PushFront links e as the new first element of the list.
func (l *List) PushFront(e *Elem) {
	l.insertAfter(&l.root, e)
}

// PushBack links e as the new last element of the list.
func (l *List) PushBack(e *Elem) {
	l.insertAfter(l.root.prev, e)
}

// Front returns the first element, or nil if the list is empty.
func (l *List) Front() *Elem {
	if l.Empty() {
		return nil
	}
	return l.root.next
}

// Back returns the last element, or nil if the list is empty.
func (l *List) Back() *Elem {
	if l.Empty() {
		return nil
	}
	return l.root.prev
}

// Remove unlinks e from the list. e must currently be linked into l.
// Removing an element that is not linked panics; removing one that is
// linked into a different list is a programming error and its effects are
// undefined.
func (l *List) Remove(e *Elem) {
	if !e.linked() {
		panic("dlist: Remove of unlinked element")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
}

// PopFront unlinks and returns the first element, or nil if the list is
// empty.
func (l *List) PopFront() *Elem {
	e := l.Front()
	if e == nil {
		return nil
	}
	l.Remove(e)
	return e
}

// PopBack unlinks and returns the last element, or nil if the list is
// empty.
func (l *List) PopBack() *Elem {
	e := l.Back()
	if e == nil {
		return nil
	}
	l.Remove(e)
	return e
}

// PopFrontIf unlinks and returns the first element iff pred holds for it.
func (l *List) PopFrontIf(pred func(*Elem) bool) *Elem {
	e := l.Front()
	if e == nil || !pred(e) {
		return nil
	}
	l.Remove(e)
	return e
}

// PopBackIf unlinks and returns the last element iff pred holds for it.
func (l *List) PopBackIf(pred func(*Elem) bool) *Elem {
	e := l.Back()
	if e == nil || !pred(e) {
		return nil
	}
	l.Remove(e)
	return e
}

// Find walks the list front-to-back and returns the first element for
// which pred returns true, or nil if none matches. O(n).
func (l *List) Find(pred func(*Elem) bool) *Elem {
	for e := l.root.next; e != &l.root; e = e.next {
		if pred(e) {
			return e
		}
	}
	return nil
}

// Next returns the element following e, or nil if e is the last element.
func (l *List) Next(e *Elem) *Elem {
	if e.next == &l.root {
		return nil
	}
	return e.next
}
