package matcher

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding"
	"fmt"
	"hash"
	"sort"

	"github.com/rs/zerolog"
)

// DefaultMaxBoundaryCombos caps the number of candidate combinations
// evaluated for a single boundary piece. Beyond the cap the piece stops
// constraining its slots and every surviving candidate passes it.
const DefaultMaxBoundaryCombos = 10000

// boundarySpan is the part of a boundary piece that falls inside one slot,
// expressed as a candidate-local byte range.
type boundarySpan struct {
	slot   int
	offset int64
	length int64
}

// boundaryPiece is a piece whose byte range crosses slot edges. Its spans
// are ordered by stream position and cover the piece exactly.
type boundaryPiece struct {
	index      int
	spans      []boundarySpan
	overflowed bool
}

// buildBoundaryPieces collects every piece that straddles two or more slots.
// Each slot contributes at most its leading and trailing non-interior pieces,
// so the walk is linear in the number of slots.
func buildBoundaryPieces(d *Descriptor, slots []Slot) []boundaryPiece {
	spansByPiece := make(map[int][]boundarySpan)

	for si := range slots {
		s := &slots[si]
		if s.Size == 0 {
			continue
		}
		for k := s.FirstPiece; k <= s.LastPiece; k++ {
			if s.HasInterior() && k >= s.InteriorFirst && k <= s.InteriorLast {
				// Skip the interior range in one step.
				k = s.InteriorLast
				continue
			}
			ps, plen := d.PieceSpan(k)
			pe := ps + plen
			lo := maxInt64(ps, s.Start)
			hi := minInt64(pe, s.End)
			spansByPiece[k] = append(spansByPiece[k], boundarySpan{
				slot:   si,
				offset: lo - s.Start,
				length: hi - lo,
			})
		}
	}

	pieces := make([]boundaryPiece, 0, len(spansByPiece))
	for k, spans := range spansByPiece {
		if len(spans) < 2 {
			continue
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].slot < spans[j].slot })
		pieces = append(pieces, boundaryPiece{index: k, spans: spans})
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].index < pieces[j].index })
	return pieces
}

// spanKey identifies one candidate's contribution to one boundary piece. A
// slot can contribute different ranges to its leading and trailing boundary
// pieces, and the same local file can be a candidate for two slots covered
// by one piece, so both the piece and the slot are part of the key.
type spanKey struct {
	piece int
	slot  int
	path  string
}

type boundaryJoiner struct {
	desc      *Descriptor
	hasher    Hasher
	maxCombos int
	log       zerolog.Logger
	progress  func(delta int)
}

// join eliminates candidates that cannot complete any cross-slot piece. An
// elimination at one boundary can strand candidates at a neighbouring one,
// so pieces are re-evaluated until a fixed point; a forward pass followed by
// a backward-reaching pass converges in at most 2*(n-1) rounds.
func (j *boundaryJoiner) join(ctx context.Context, slots []Slot, states [][]*slotCandidate) error {
	pieces := buildBoundaryPieces(j.desc, slots)
	if len(pieces) == 0 {
		return nil
	}

	byteCache := make(map[spanKey][]byte)

	maxPasses := 2 * len(slots)
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for i := range pieces {
			if pass == 0 {
				j.progress(1)
			}
			c, err := j.evaluate(ctx, &pieces[i], states, byteCache)
			if err != nil {
				return err
			}
			changed = changed || c
		}
		if !changed {
			break
		}
	}

	for _, slotStates := range states {
		for _, sc := range slotStates {
			if !sc.eliminated() {
				sc.state = stateBoundaryVerified
			}
		}
	}
	return nil
}

// evaluate re-derives the surviving candidate sets for one boundary piece.
// It reports whether any candidate was eliminated.
func (j *boundaryJoiner) evaluate(ctx context.Context, p *boundaryPiece, states [][]*slotCandidate, byteCache map[spanKey][]byte) (bool, error) {
	if p.overflowed {
		return false, nil
	}

	groups := make([][]*slotCandidate, len(p.spans))
	for i, sp := range p.spans {
		for _, sc := range states[sp.slot] {
			if !sc.eliminated() {
				groups[i] = append(groups[i], sc)
			}
		}
	}

	combos := 1
	for _, g := range groups {
		if len(g) == 0 {
			// No candidate can fill this span, so no combination exists and
			// every survivor in the other spans fails the piece.
			return eliminateAll(groups), nil
		}
		combos *= len(g)
		if combos > j.maxCombos {
			j.log.Warn().
				Int("piece", p.index).
				Int("limit", j.maxCombos).
				Msg("boundary combination limit exceeded, keeping all candidates for this piece")
			p.overflowed = true
			return false, nil
		}
	}

	changed := false

	// Fetch each survivor's span bytes once; reads are shared across passes
	// through the cache. Each piece reads its own spans.
	for i, sp := range p.spans {
		kept := groups[i][:0]
		for _, sc := range groups[i] {
			key := spanKey{piece: p.index, slot: sp.slot, path: sc.candidate.Path}
			if _, ok := byteCache[key]; !ok {
				b, err := j.hasher.ReadRange(ctx, sc.candidate.Path, sp.offset, sp.length)
				if err != nil {
					if ctx.Err() != nil {
						return changed, ctx.Err()
					}
					j.log.Warn().Err(err).Str("path", sc.candidate.Path).Msg("candidate dropped on boundary read error")
					sc.state = stateEliminated
					changed = true
					continue
				}
				byteCache[key] = b
			}
			kept = append(kept, sc)
		}
		groups[i] = kept
		if len(kept) == 0 {
			return eliminateAll(groups) || changed, nil
		}
	}

	want := j.desc.PieceDigest(p.index)
	matched := make([]map[*slotCandidate]bool, len(groups))
	for i := range matched {
		matched[i] = make(map[*slotCandidate]bool)
	}

	// Depth-first over one candidate per span, carrying the SHA-1 state of
	// the bytes chosen so far. Cloning the state via its binary encoding
	// means each span's bytes are hashed once per distinct prefix rather
	// than once per full combination.
	seed, err := marshalState(sha1.New())
	if err != nil {
		return changed, err
	}
	tuple := make([]*slotCandidate, len(groups))

	var walk func(depth int, state []byte) error
	walk = func(depth int, state []byte) error {
		for _, sc := range groups[depth] {
			h, err := unmarshalState(state)
			if err != nil {
				return err
			}
			h.Write(byteCache[spanKey{piece: p.index, slot: p.spans[depth].slot, path: sc.candidate.Path}])
			tuple[depth] = sc

			if depth == len(groups)-1 {
				if bytes.Equal(h.Sum(nil), want) {
					for i, m := range tuple {
						matched[i][m] = true
					}
				}
				continue
			}

			next, err := marshalState(h)
			if err != nil {
				return err
			}
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, seed); err != nil {
		return changed, err
	}

	for i, g := range groups {
		for _, sc := range g {
			if !matched[i][sc] {
				sc.state = stateEliminated
				changed = true
			}
		}
	}
	return changed, nil
}

func eliminateAll(groups [][]*slotCandidate) bool {
	changed := false
	for _, g := range groups {
		for _, sc := range g {
			if !sc.eliminated() {
				sc.state = stateEliminated
				changed = true
			}
		}
	}
	return changed
}

func marshalState(h hash.Hash) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("sha1 state is not marshalable")
	}
	return m.MarshalBinary()
}

func unmarshalState(state []byte) (hash.Hash, error) {
	h := sha1.New()
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("sha1 state is not unmarshalable")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, err
	}
	return h, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
