package model

import "fmt"

// LayerCache accumulates keys and values for one decoder layer. K and V are
// row-major [maxLen, heads*headDim]; Cursor is the number of positions
// written so far. Slices beyond the cursor are never read.
type LayerCache struct {
	K      []float32
	V      []float32
	Cursor int
}

// Cache is the per-layer attention cache driving incremental decoding.
type Cache struct {
	Layers []LayerCache
	MaxLen int
	width  int
}

// NewCache allocates a zeroed cache sized for the configuration.
func NewCache(cfg Config) *Cache {
	width := cfg.DecoderAttentionHeads * cfg.HeadDim()
	c := &Cache{
		Layers: make([]LayerCache, cfg.DecoderLayers),
		MaxLen: cfg.MaxTargetPositions,
		width:  width,
	}
	for i := range c.Layers {
		c.Layers[i] = LayerCache{
			K: make([]float32, cfg.MaxTargetPositions*width),
			V: make([]float32, cfg.MaxTargetPositions*width),
		}
	}
	return c
}

// Len returns the number of positions currently cached.
func (c *Cache) Len() int {
	if len(c.Layers) == 0 {
		return 0
	}
	return c.Layers[0].Cursor
}

// Reset rewinds all cursors. Stale K/V content past the cursor is left in
// place; it is unreachable until overwritten.
func (c *Cache) Reset() {
	for i := range c.Layers {
		c.Layers[i].Cursor = 0
	}
}

// advance reserves room for n new positions in every layer, returning an
// error if the cache would overflow.
func (c *Cache) advance(n int) error {
	if n <= 0 {
		return fmt.Errorf("model: cache advance of %d positions", n)
	}
	if c.Len()+n > c.MaxLen {
		return fmt.Errorf("model: attention cache overflow: %d + %d > %d", c.Len(), n, c.MaxLen)
	}
	return nil
}

// write stores the key and value vectors for one new position in one layer.
// pos is absolute; it must equal the layer cursor plus the chunk offset.
func (lc *LayerCache) write(width, pos int, k, v []float32) {
	copy(lc.K[pos*width:(pos+1)*width], k)
	copy(lc.V[pos*width:(pos+1)*width], v)
}
