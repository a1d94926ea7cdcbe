package imap

import (
	"testing"

	"github.com/emersion/go-imap"
)

func TestSearchCriteria(t *testing.T) {
	t.Parallel()

	c := SearchCriteria("Report Domain:")
	if got := c.Header.Get("Subject"); got != "Report Domain:" {
		t.Fatalf("wrong subject criteria %q", got)
	}
	if len(c.WithoutFlags) != 2 || c.WithoutFlags[0] != imap.SeenFlag {
		t.Fatalf("wrong flags %v", c.WithoutFlags)
	}

	c = SearchCriteria("")
	if len(c.Header) != 0 {
		t.Fatalf("expected no header criteria, got %v", c.Header)
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ids      []uint32
		size     int
		want     string
		wantMore bool
	}{
		{"fewer than batch", []uint32{1, 2, 3}, 10, "1:3", false},
		{"exact batch", []uint32{1, 2, 3}, 3, "1:3", false},
		{"more than batch", []uint32{4, 5, 6, 9}, 2, "4:5", true},
		{"no limit", []uint32{7, 9}, 0, "7,9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seqset, more := Batch(tt.ids, tt.size)
			if seqset.String() != tt.want {
				t.Fatalf("got %s want %s", seqset.String(), tt.want)
			}
			if more != tt.wantMore {
				t.Fatalf("got more=%v want %v", more, tt.wantMore)
			}
		})
	}
}
