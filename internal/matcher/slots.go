package matcher

// BuildSlots derives the per-file slot geometry for a torrent. The returned
// slots are in torrent file order and tile the virtual stream exactly:
// slots[i].End == slots[i+1].Start for all i.
//
// A piece counts as interior to a slot when the byte range it covers lies
// wholly inside the slot; this includes a short final piece that ends at the
// end of the stream. Pieces that cross into a neighbouring slot are boundary
// pieces and are accounted for by PrefixLen/SuffixLen.
func BuildSlots(d *Descriptor) []Slot {
	slots := make([]Slot, 0, len(d.Files))
	total := d.TotalLength()
	pl := d.PieceLength

	var offset int64
	for i, f := range d.Files {
		s := Slot{
			Index: i,
			Path:  f.Path,
			Size:  f.Length,
			Start: offset,
			End:   offset + f.Length,
		}

		if f.Length == 0 {
			// Zero-size slots cover no pieces; leave the piece fields at a
			// sentinel empty range.
			s.FirstPiece = -1
			s.LastPiece = -1
			s.InteriorFirst = 0
			s.InteriorLast = -1
			slots = append(slots, s)
			offset = s.End
			continue
		}

		s.FirstPiece = int(s.Start / pl)
		s.LastPiece = int((s.End - 1) / pl)
		s.PrefixLen = s.Start % pl

		if s.End < total && s.End%pl != 0 {
			s.SuffixLen = int64(s.LastPiece+1)*pl - s.End
		}

		// First piece starting at or after Start.
		s.InteriorFirst = int((s.Start + pl - 1) / pl)
		// Last piece ending at or before End, where the final piece of the
		// stream ends at total rather than on a piece-length multiple.
		s.InteriorLast = s.LastPiece
		if pieceEnd := minInt64(int64(s.LastPiece+1)*pl, total); pieceEnd > s.End {
			s.InteriorLast = s.LastPiece - 1
		}

		slots = append(slots, s)
		offset = s.End
	}

	return slots
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
