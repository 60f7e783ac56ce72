package buf

import "testing"

func TestGetScratchBucketSizing(t *testing.T) {
	cases := []struct {
		request int
		wantCap int
	}{
		{request: 100, wantCap: bucket4k},
		{request: bucket4k + 1, wantCap: bucket16k},
		{request: bucket64k, wantCap: bucket64k},
		{request: bucket256k + 1, wantCap: bucket256k + 1},
	}
	for _, c := range cases {
		b := GetScratch(c.request)
		if len(b) != c.request {
			t.Fatalf("GetScratch(%d) len = %d, want %d", c.request, len(b), c.request)
		}
		if cap(b) != c.wantCap && c.request <= bucket256k {
			t.Fatalf("GetScratch(%d) cap = %d, want %d", c.request, cap(b), c.wantCap)
		}
	}
}

func TestPutScratchRoundTrip(t *testing.T) {
	b := GetScratch(1000)
	PutScratch(b)
	b2 := GetScratch(1000)
	if cap(b2) != bucket4k {
		t.Fatalf("expected reused buffer to have bucket4k capacity, got %d", cap(b2))
	}
}
