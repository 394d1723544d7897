package model

import (
	"reflect"
	"testing"
)

func TestMergeCategories(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{
			name:  "union keeps order",
			lists: [][]string{{"coding", "writing"}, {"art"}},
			want:  []string{"coding", "writing", "art"},
		},
		{
			name:  "case-insensitive dedupe keeps first spelling",
			lists: [][]string{{"Coding"}, {"coding", "CODING", "art"}},
			want:  []string{"Coding", "art"},
		},
		{
			name:  "blank entries dropped",
			lists: [][]string{{"", "  ", "coding"}},
			want:  []string{"coding"},
		},
		{
			name:  "whitespace trimmed before dedupe",
			lists: [][]string{{"coding"}, {" coding ", "art"}},
			want:  []string{"coding", "art"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCategories(tt.lists...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTagsRoundTrip(t *testing.T) {
	tags := []string{"go", "cleanup", "review"}
	if got := SplitTags(JoinTags(tags)); !reflect.DeepEqual(got, tags) {
		t.Errorf("got %v, want %v", got, tags)
	}
}

func TestSplitTagsEdgeCases(t *testing.T) {
	if got := SplitTags(""); got != nil {
		t.Errorf("empty column: got %v, want nil", got)
	}
	if got := SplitTags("a, ,b,"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v, want blanks dropped", got)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	ref := "f1"
	r := &Record{
		LocalID:   "a",
		Tags:      []string{"x"},
		FolderRef: &ref,
	}

	c := r.Clone()
	c.Tags[0] = "mutated"
	*c.FolderRef = "mutated"

	if r.Tags[0] != "x" {
		t.Error("tags slice shared between clone and original")
	}
	if *r.FolderRef != "f1" {
		t.Error("folder_ref pointer shared between clone and original")
	}
}
