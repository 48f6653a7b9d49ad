package datasetid

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	table := map[string]int{
		"Prl":         -40,
		"lib1_rep1":   -35,
		"lib2_rep1":   -30,
		"lib2_rep2":   -31,
		"other_lib3x": 5,
	}

	cases := []struct {
		id      string
		want    int
		wantKey string
		wantErr error
	}{
		{id: "Prl", want: -40, wantKey: "Prl"},
		{id: "lib1", want: -35, wantKey: "lib1_rep1"},
		{id: "lib3", want: 5, wantKey: "other_lib3x"},
		{id: "lib2", wantErr: ErrAmbiguous},
		{id: "missing", wantErr: ErrNotFound},
		{id: "", wantErr: ErrNotFound},
	}
	for _, tc := range cases {
		got, key, err := Resolve(table, tc.id)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("resolve(%q) err=%v want=%v", tc.id, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("resolve(%q): %v", tc.id, err)
		}
		if got != tc.want || key != tc.wantKey {
			t.Fatalf("resolve(%q)=(%d,%q) want=(%d,%q)", tc.id, got, key, tc.want, tc.wantKey)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	table := map[string]float64{"b_lib": 1, "a_lib": 2, "c_lib": 3}
	first := Candidates(table, "lib")
	for i := 0; i < 20; i++ {
		again := Candidates(table, "lib")
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("candidate order changed: %v vs %v", first, again)
			}
		}
	}
	if first[0] != "a_lib" {
		t.Fatalf("expected sorted candidates, got %v", first)
	}
}

func TestReverseKeys(t *testing.T) {
	if Reverse("lib1") != "lib1_rc" || !IsReverse("lib1_rc") || IsReverse("lib1") {
		t.Fatal("unexpected reverse key handling")
	}
}
