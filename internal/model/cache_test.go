package model

import "testing"

func TestCacheAdvanceAndReset(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	c := NewCache(cfg)
	if c.Len() != 0 {
		t.Fatalf("fresh cache length = %d", c.Len())
	}
	if err := c.advance(cfg.MaxTargetPositions); err != nil {
		t.Fatalf("advance to capacity: %v", err)
	}
	for i := range c.Layers {
		c.Layers[i].Cursor = cfg.MaxTargetPositions
	}
	if err := c.advance(1); err == nil {
		t.Fatal("advance past capacity should fail")
	}
	if err := c.advance(0); err == nil {
		t.Fatal("zero advance should fail")
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("length after reset = %d", c.Len())
	}
	if err := c.advance(1); err != nil {
		t.Fatalf("advance after reset: %v", err)
	}
}

func TestLayerCacheWrite(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	c := NewCache(cfg)
	width := cfg.DecoderAttentionHeads * cfg.HeadDim()

	k := make([]float32, width)
	v := make([]float32, width)
	for i := range k {
		k[i] = float32(i + 1)
		v[i] = -float32(i + 1)
	}
	lc := &c.Layers[0]
	lc.write(width, 3, k, v)
	for i := 0; i < width; i++ {
		if lc.K[3*width+i] != k[i] {
			t.Fatalf("K[%d] = %g, want %g", i, lc.K[3*width+i], k[i])
		}
		if lc.V[3*width+i] != v[i] {
			t.Fatalf("V[%d] = %g, want %g", i, lc.V[3*width+i], v[i])
		}
	}
	// Neighboring rows stay untouched.
	for i := 0; i < width; i++ {
		if lc.K[2*width+i] != 0 || lc.K[4*width+i] != 0 {
			t.Fatal("write spilled into a neighboring row")
		}
	}
}
