package list_test

import (
	"testing"

	"heapdb/pkg/list"
)

func verifyList(t *testing.T, l *list.List[int], data []int) {
	t.Helper()
	got := make([]int, 0)
	for curr := l.PeekHead(); curr != nil; curr = curr.GetNext() {
		got = append(got, curr.GetValue())
	}
	if len(got) != len(data) || l.Len() != len(data) {
		t.Fatalf("lists of unequal size; got %v (len %d), expected %v", got, l.Len(), data)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("lists not equal; got %v, expected %v.", got, data)
		}
	}
	// Walking backwards from the tail must give the same elements.
	i := len(data) - 1
	for curr := l.PeekTail(); curr != nil; curr = curr.GetPrev() {
		if i < 0 || curr.GetValue() != data[i] {
			t.Fatalf("prev pointers broken; expected %v", data)
		}
		i--
	}
}

func TestList(t *testing.T) {
	t.Run("EmptyList", testEmptyList)
	t.Run("SingletonList", testSingletonList)
	t.Run("PushHead", testPushHead)
	t.Run("PushTail", testPushTail)
	t.Run("Find", testFind)
	t.Run("Map", testMap)
	t.Run("MapPop", testMapPop)
	t.Run("PopSelf", testPopSelf)
	t.Run("PopTwice", testPopTwice)
	t.Run("SetValue", testSetValue)
}

func testEmptyList(t *testing.T) {
	l := list.NewList[int]()
	if l.PeekHead() != nil || l.PeekTail() != nil || l.Len() != 0 {
		t.Fatal("bad list initialization")
	}
}

/* In a list with only one element the head is the tail. */
func testSingletonList(t *testing.T) {
	l := list.NewList[int]()
	l.PushHead(5)
	if l.PeekHead() != l.PeekTail() {
		t.Fatal("head not equal to tail in singleton list")
	}
}

func testPushHead(t *testing.T) {
	l := list.NewList[int]()
	for i := 1; i <= 5; i++ {
		l.PushHead(i)
	}
	verifyList(t, l, []int{5, 4, 3, 2, 1})
}

func testPushTail(t *testing.T) {
	l := list.NewList[int]()
	for i := 1; i <= 5; i++ {
		l.PushTail(i)
	}
	verifyList(t, l, []int{1, 2, 3, 4, 5})
}

func testFind(t *testing.T) {
	l := list.NewList[int]()
	if l.Find(func(*list.Link[int]) bool { return true }) != nil {
		t.Fatal("found a link in an empty list")
	}
	l.PushTail(1)
	want := l.PushTail(2)
	l.PushTail(2)
	if got := l.Find(func(link *list.Link[int]) bool { return link.GetValue() == 2 }); got != want {
		t.Fatal("Find did not return the first match")
	}
	if l.Find(func(link *list.Link[int]) bool { return link.GetValue() == 7 }) != nil {
		t.Fatal("found a value not in the list")
	}
}

func testMap(t *testing.T) {
	l := list.NewList[int]()
	for i := 1; i <= 4; i++ {
		l.PushTail(i)
	}
	l.Map(func(link *list.Link[int]) {
		link.SetValue(link.GetValue() * 10)
	})
	verifyList(t, l, []int{10, 20, 30, 40})
}

/* Links may remove themselves while the list is being mapped over. */
func testMapPop(t *testing.T) {
	l := list.NewList[int]()
	for i := 1; i <= 6; i++ {
		l.PushTail(i)
	}
	l.Map(func(link *list.Link[int]) {
		if link.GetValue()%2 == 0 {
			link.PopSelf()
		}
	})
	verifyList(t, l, []int{1, 3, 5})
}

func testPopSelf(t *testing.T) {
	l := list.NewList[int]()
	head := l.PushTail(1)
	middle := l.PushTail(2)
	tail := l.PushTail(3)

	middle.PopSelf()
	verifyList(t, l, []int{1, 3})
	if middle.GetList() != nil {
		t.Fatal("popped link still points at its list")
	}
	head.PopSelf()
	verifyList(t, l, []int{3})
	tail.PopSelf()
	verifyList(t, l, []int{})
	if l.PeekHead() != nil || l.PeekTail() != nil {
		t.Fatal("empty list still has a head or tail")
	}
}

func testPopTwice(t *testing.T) {
	l := list.NewList[int]()
	a := l.PushTail(1)
	l.PushTail(2)
	a.PopSelf()
	a.PopSelf()
	verifyList(t, l, []int{2})
}

func testSetValue(t *testing.T) {
	l := list.NewList[string]()
	link := l.PushHead("old")
	link.SetValue("new")
	if l.PeekHead().GetValue() != "new" || link.GetList() != l {
		t.Fatal("SetValue did not update the link in place")
	}
}
