package ingest

// NextPosition advances the round-robin pointer, keeping it in
// [0, count) even when the tenant count changed between ticks.
func NextPosition(position, count int) int {
	if count <= 0 {
		return 0
	}
	return (position + 1) % count
}

// PickStore selects the tenant for a tick. Positions persisted under an
// older tenant count are folded back into range rather than rejected, so a
// reconfiguration reshuffles assignment but never stalls the rotation.
func PickStore(stores []Store, position int) Store {
	if position < 0 {
		position = 0
	}
	return stores[position%len(stores)]
}
