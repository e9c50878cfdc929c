package fanout

// Creations returns how many pools this set has created so far
func (ps *PoolSet) Creations() int64 {
	return ps.creations.Load()
}

// SizeFor exposes the sizing policy
func (c Config) SizeFor(depth int) int {
	return c.sizeFor(depth)
}
