package model

import "testing"

func TestBrickLayoutAndFlip(t *testing.T) {
	b := NewBrick(2, 2, 3)
	for i := range b.Data {
		b.Data[i] = float64(i)
	}
	if got := b.At(1, 0, 2); got != 8 {
		t.Fatalf("unexpected At: %f", got)
	}
	b.FlipPositions()
	row := b.Row(0, 1)
	if row[0] != 5 || row[1] != 4 || row[2] != 3 {
		t.Fatalf("unexpected flipped row: %v", row)
	}
	span := b.Span(nil, 0, 1, 3)
	if len(span) != 4 || span[0] != 1 || span[2] != 4 {
		t.Fatalf("unexpected span: %v", span)
	}
	region := b.Region(nil, 1, []int{0})
	if len(region) != 2 || region[0] != 8 || region[1] != 11 {
		t.Fatalf("unexpected region: %v", region)
	}
}

func TestBrickSetKeepsInsertionOrder(t *testing.T) {
	set := NewBrickSet()
	set.Put("b", NewBrick(1, 1, 1))
	set.Put("a", NewBrick(1, 1, 1))
	set.Put("b", NewBrick(1, 1, 2))
	if len(set.Keys) != 2 || set.Keys[0] != "b" || set.Keys[1] != "a" {
		t.Fatalf("unexpected key order: %v", set.Keys)
	}
	if got, _ := set.Get("b"); got.NPos != 2 {
		t.Fatalf("expected replaced brick, got %+v", got)
	}
}

func TestParseBindMode(t *testing.T) {
	if mode, err := ParseBindMode(" ADD "); err != nil || mode != BindAdd {
		t.Fatalf("unexpected parse: %v %v", mode, err)
	}
	if _, err := ParseBindMode("mean"); err == nil {
		t.Fatal("expected bind mode error")
	}
}
