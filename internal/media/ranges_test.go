package media

import (
	"testing"
)

func TestTimeRanges_Add(t *testing.T) {
	tests := []struct {
		name string
		in   TimeRanges
		add  Range
		want TimeRanges
	}{
		{"empty", nil, Range{0, 2}, TimeRanges{{0, 2}}},
		{"disjoint_after", TimeRanges{{0, 2}}, Range{5, 6}, TimeRanges{{0, 2}, {5, 6}}},
		{"disjoint_before", TimeRanges{{5, 6}}, Range{0, 2}, TimeRanges{{0, 2}, {5, 6}}},
		{"contiguous_merges", TimeRanges{{0, 2}}, Range{2, 4}, TimeRanges{{0, 4}}},
		{"bridges_gap", TimeRanges{{0, 2}, {5, 6}}, Range{1, 5.5}, TimeRanges{{0, 6}}},
		{"inside_existing", TimeRanges{{0, 10}}, Range{3, 4}, TimeRanges{{0, 10}}},
		{"zero_length_ignored", TimeRanges{{0, 2}}, Range{3, 3}, TimeRanges{{0, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Add(tt.add.Start, tt.add.End)
			if !equalRanges(got, tt.want) {
				t.Errorf("Add(%v) on %v = %v, want %v", tt.add, tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeRanges_Add_does_not_mutate_receiver(t *testing.T) {
	in := TimeRanges{{0, 2}}
	_ = in.Add(2, 4)
	if in[0].End != 2 {
		t.Errorf("receiver mutated: %v", in)
	}
}

func TestTimeRanges_Remove(t *testing.T) {
	tests := []struct {
		name string
		in   TimeRanges
		cut  Range
		want TimeRanges
	}{
		{"split_middle", TimeRanges{{0, 10}}, Range{3, 4}, TimeRanges{{0, 3}, {4, 10}}},
		{"trim_tail", TimeRanges{{0, 10}}, Range{8, 12}, TimeRanges{{0, 8}}},
		{"trim_head", TimeRanges{{2, 10}}, Range{0, 5}, TimeRanges{{5, 10}}},
		{"drop_whole", TimeRanges{{0, 2}, {5, 6}}, Range{4, 7}, TimeRanges{{0, 2}}},
		{"no_overlap", TimeRanges{{0, 2}}, Range{2, 3}, TimeRanges{{0, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Remove(tt.cut.Start, tt.cut.End)
			if !equalRanges(got, tt.want) {
				t.Errorf("Remove(%v) on %v = %v, want %v", tt.cut, tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeRanges_Containing(t *testing.T) {
	tr := TimeRanges{{0, 2}, {5, 8}}

	if r, ok := tr.Containing(6); !ok || r.End != 8 {
		t.Errorf("Containing(6) = %v, %v", r, ok)
	}
	if r, ok := tr.Containing(2); !ok || r.End != 2 {
		t.Errorf("Containing(2) edge = %v, %v", r, ok)
	}
	if _, ok := tr.Containing(3); ok {
		t.Error("Containing(3) should be false in a gap")
	}
}

func TestTimeRanges_Overlap(t *testing.T) {
	tr := TimeRanges{{0, 10}, {20, 25}}

	t.Run("inside", func(t *testing.T) {
		r, ok := tr.Overlap(4, 6)
		if !ok || r.Start != 4 || r.End != 6 {
			t.Errorf("Overlap(4,6) = %v, %v", r, ok)
		}
	})

	t.Run("straddles_end", func(t *testing.T) {
		r, ok := tr.Overlap(8, 12)
		if !ok || r.Start != 8 || r.End != 10 {
			t.Errorf("Overlap(8,12) = %v, %v", r, ok)
		}
	})

	t.Run("contiguous_is_not_overlap", func(t *testing.T) {
		if r, ok := tr.Overlap(10, 12); ok {
			t.Errorf("Overlap(10,12) = %v, want none", r)
		}
	})

	t.Run("gap", func(t *testing.T) {
		if r, ok := tr.Overlap(12, 18); ok {
			t.Errorf("Overlap(12,18) = %v, want none", r)
		}
	})
}

func TestTimeRanges_Union(t *testing.T) {
	a := TimeRanges{{0, 2}}
	b := TimeRanges{{2, 3}, {6, 7}}
	got := a.Union(b)
	want := TimeRanges{{0, 3}, {6, 7}}
	if !equalRanges(got, want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
}

func equalRanges(a, b TimeRanges) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
