package segment_test

import (
	"context"
	"fmt"

	"github.com/jrhy/segment"
	"github.com/jrhy/segment/memory"
)

func ExampleWriter_Commit() {
	ctx := context.Background()
	store, err := segment.NewStore(segment.StoreConfig{Persist: segment.NewInMemoryStore()})
	if err != nil {
		panic(err)
	}
	w, err := segment.NewWriter(store, segment.WriterConfig{})
	if err != nil {
		panic(err)
	}
	root, err := w.Commit(ctx, memory.NewNode(
		[]*memory.PropertyState{memory.StringProperty("greeting", "hello")},
		map[string]memory.NodeState{"child": memory.EmptyNode},
	))
	if err != nil {
		panic(err)
	}

	head, err := store.Head(ctx)
	if err != nil {
		panic(err)
	}
	n, err := segment.NewReader(store).ReadNode(ctx, head.Node)
	if err != nil {
		panic(err)
	}
	p, _ := n.Property(ctx, "greeting")
	has, _ := n.HasChildNode(ctx, "child")
	fmt.Println(head == root, p.Value(0), has)
	// Output:
	// true hello true
}

type printDiff struct{}

func (printDiff) EntryAdded(after segment.MapEntry) (bool, error) {
	fmt.Printf("added   %s\n", after.Name)
	return true, nil
}

func (printDiff) EntryChanged(before, after segment.MapEntry) (bool, error) {
	fmt.Printf("changed %s\n", after.Name)
	return true, nil
}

func (printDiff) EntryDeleted(before segment.MapEntry) (bool, error) {
	fmt.Printf("removed %s\n", before.Name)
	return true, nil
}

func ExampleMapRecord_Compare() {
	ctx := context.Background()
	store, err := segment.NewStore(segment.StoreConfig{Persist: segment.NewInMemoryStore()})
	if err != nil {
		panic(err)
	}
	w, err := segment.NewWriter(store, segment.WriterConfig{})
	if err != nil {
		panic(err)
	}
	foo, _ := w.WriteString("foo")
	bar, _ := w.WriteString("bar")
	v1, err := w.WriteMap(ctx, nil, map[string]segment.RecordID{"a": foo, "b": foo})
	if err != nil {
		panic(err)
	}
	before, _ := w.Reader().ReadMap(ctx, v1)
	v2, err := w.WriteMap(ctx, before, map[string]segment.RecordID{"a": bar})
	if err != nil {
		panic(err)
	}
	after, _ := w.Reader().ReadMap(ctx, v2)
	fmt.Println(after.IsDiff())
	if _, err := after.Compare(ctx, before, printDiff{}); err != nil {
		panic(err)
	}
	// Output:
	// true
	// changed a
}
