package crdt

// deleteGet/deleteSet are the redoRangeOp/undoRangeOp accessors for the
// shared delete axis: a piece's Tombstone field.
func deleteGet(p *Piece) RangeOp { return p.Tombstone }
func deleteSet(p *Piece, op RangeOp) {
	if op == nil {
		p.Tombstone = nil
		return
	}
	p.Tombstone = op
}

// formatAccessors returns the redoRangeOp/undoRangeOp accessors for one
// style key's axis: a piece's Attrs[key] entry (§9 Format decision — a
// separate attribute field per style key, not the tombstone field).
func formatAccessors(key string) (get func(*Piece) RangeOp, set func(*Piece, RangeOp)) {
	get = func(p *Piece) RangeOp {
		if p.Attrs == nil {
			return nil
		}
		// Comma-ok avoids the typed-nil-in-interface trap: a bare
		// p.Attrs[key] on a missing key would still type-check but a
		// map lookup miss returns the zero RangeOp (nil interface)
		// here regardless, since the map's value type is already the
		// interface — no concrete-pointer read is involved.
		if v, ok := p.Attrs[key]; ok {
			return v
		}
		return nil
	}
	set = func(p *Piece, op RangeOp) {
		if op == nil {
			if p.Attrs != nil {
				delete(p.Attrs, key)
			}
			return
		}
		if p.Attrs == nil {
			p.Attrs = make(map[string]RangeOp)
		}
		p.Attrs[key] = op
	}
	return get, set
}
