package stats

import "testing"

func TestCompareScores(t *testing.T) {
	cases := []struct {
		name       string
		a, b       map[string]float64
		gt, lt, eq bool
		shared     int
	}{
		{name: "dominates", a: map[string]float64{"x": 2, "y": 1}, b: map[string]float64{"x": 1, "y": 1}, gt: true, shared: 2},
		{name: "dominated", a: map[string]float64{"x": 0, "y": 1}, b: map[string]float64{"x": 1, "y": 1, "z": 9}, lt: true, shared: 2},
		{name: "equal", a: map[string]float64{"x": 1}, b: map[string]float64{"x": 1}, eq: true, shared: 1},
		{name: "mixed", a: map[string]float64{"x": 2, "y": 0}, b: map[string]float64{"x": 1, "y": 1}, shared: 2},
		{name: "disjoint", a: map[string]float64{"x": 2}, b: map[string]float64{"y": 1}},
	}
	for _, tc := range cases {
		got := CompareScores(tc.a, tc.b)
		if got.GT != tc.gt || got.LT != tc.lt || got.EQ != tc.eq || len(got.Shared) != tc.shared {
			t.Fatalf("%s: unexpected comparison %+v", tc.name, got)
		}
	}

	got := CompareScores(map[string]float64{"b": 3, "a": 1}, map[string]float64{"a": 2, "b": 1})
	if got.Shared[0] != "a" || got.Deltas["a"] != -1 || got.Deltas["b"] != 2 {
		t.Fatalf("unexpected deltas %+v", got)
	}
}
