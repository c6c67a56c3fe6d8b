package usbtransport

import "testing"

func TestXferRejectsOversizedCommand(t *testing.T) {
	f := &Framer{}
	// Padding itself needs a live endpoint to observe; this only checks the
	// guard that rejects commands longer than 16 bytes before any write.
	_, err := f.Xfer(make([]byte, cmdSize+1), nil, 0)
	if err == nil {
		t.Fatalf("expected error for oversized command")
	}
}

func TestRxRoundingRules(t *testing.T) {
	cases := []struct {
		rxLen    int
		expected int
	}{
		{rxLen: 1, expected: 64},
		{rxLen: 64, expected: 64},
		{rxLen: 65, expected: 68},
		{rxLen: 8, expected: 64},
		{rxLen: 100, expected: 100},
		{rxLen: 101, expected: 104},
	}
	for _, c := range cases {
		got := roundRxSize(c.rxLen)
		if got != c.expected {
			t.Errorf("roundRxSize(%d) = %d, want %d", c.rxLen, got, c.expected)
		}
	}
}
