// Package list implements the doubly-linked list backing the
// page cache's recency bookkeeping.
package list

// List is a doubly-linked list of values of type V.
type List[V any] struct {
	head *Link[V]
	tail *Link[V]
}

// New creates an empty list.
func New[V any]() *List[V] {
	return &List[V]{}
}

// PeekHead returns the link at the head of the list, or nil if empty.
func (list *List[V]) PeekHead() *Link[V] {
	return list.head
}

// PeekTail returns the link at the tail of the list, or nil if empty.
func (list *List[V]) PeekTail() *Link[V] {
	return list.tail
}

// PushHead adds a value at the head of the list and returns its link.
func (list *List[V]) PushHead(value V) *Link[V] {
	link := &Link[V]{list: list, next: list.head, value: value}
	if list.head != nil {
		list.head.prev = link
	}
	list.head = link
	if list.tail == nil {
		list.tail = link
	}
	return link
}

// PushTail adds a value at the tail of the list and returns its link.
func (list *List[V]) PushTail(value V) *Link[V] {
	link := &Link[V]{list: list, prev: list.tail, value: value}
	if list.tail != nil {
		list.tail.next = link
	}
	list.tail = link
	if list.head == nil {
		list.head = link
	}
	return link
}

// Map applies f to every value in the list from head to tail.
func (list *List[V]) Map(f func(V)) {
	for link := list.head; link != nil; link = link.next {
		f(link.value)
	}
}

// Link is one element of a List.
type Link[V any] struct {
	list  *List[V]
	prev  *Link[V]
	next  *Link[V]
	value V
}

// Value returns the link's value.
func (link *Link[V]) Value() V {
	return link.value
}

// Next returns the following link, or nil at the tail.
func (link *Link[V]) Next() *Link[V] {
	return link.next
}

// PopSelf removes the link from its list.
func (link *Link[V]) PopSelf() {
	if link.list == nil {
		return
	}
	if link.prev != nil {
		link.prev.next = link.next
	} else {
		link.list.head = link.next
	}
	if link.next != nil {
		link.next.prev = link.prev
	} else {
		link.list.tail = link.prev
	}
	link.prev = nil
	link.next = nil
	link.list = nil
}
