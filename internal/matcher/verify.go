package matcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errPieceMismatch cancels the remaining interior work for one candidate.
// It never escapes verifySlot.
var errPieceMismatch = errors.New("piece digest mismatch")

type interiorVerifier struct {
	desc     *Descriptor
	hasher   Hasher
	store    PieceStore
	log      zerolog.Logger
	progress func(delta int)
}

// verifySlot checks every interior piece of the slot against each candidate.
// Candidates run in parallel; within a candidate, pieces run in parallel up
// to the hasher's read cap, and the first mismatch cancels that candidate's
// outstanding work. Slots without interior pieces pass every candidate
// through to boundary verification unchanged.
func (v *interiorVerifier) verifySlot(ctx context.Context, slot *Slot, candidates []Candidate) ([]*slotCandidate, error) {
	states := make([]*slotCandidate, len(candidates))
	for i, c := range candidates {
		states[i] = &slotCandidate{candidate: c, state: statePending}
	}

	if !slot.HasInterior() {
		for _, sc := range states {
			sc.state = stateInteriorVerified
		}
		return states, nil
	}

	var wg sync.WaitGroup
	for _, sc := range states {
		wg.Add(1)
		go func(sc *slotCandidate) {
			defer wg.Done()
			v.verifyCandidate(ctx, slot, sc)
		}(sc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return states, nil
}

// verifyCandidate resolves one candidate's interior verdict. Cached digests
// are compared inline; misses are hashed concurrently and recorded for
// write-back once the whole match commits.
//
// The piece cache stores digests of the candidate file's own piece grid
// (byte range [i*pieceLength, (i+1)*pieceLength) of the file). A torrent
// piece k maps onto that grid only when the slot starts piece-aligned;
// unaligned slots shift every interior piece by PrefixLen bytes, so for
// those the cache is bypassed and nothing is written back.
func (v *interiorVerifier) verifyCandidate(ctx context.Context, slot *Slot, sc *slotCandidate) {
	total := slot.InteriorCount()
	var checked int64
	defer func() {
		// Keep progress monotone when elimination skips remaining pieces.
		if skipped := total - int(atomic.LoadInt64(&checked)); skipped > 0 {
			v.progress(skipped)
		}
	}()

	aligned := slot.PrefixLen == 0
	pieceShift := int(slot.Start / v.desc.PieceLength)

	var cached map[int][]byte
	if aligned {
		var err error
		cached, err = v.store.Lookup(ctx, sc.candidate.FileHash, v.desc.PieceLength)
		if err != nil {
			v.log.Warn().Err(err).Str("file_hash", sc.candidate.FileHash).Msg("piece cache lookup failed, recomputing")
			cached = nil
		}
	}

	// Cached digests first: they cost no I/O and can eliminate the candidate
	// before any read is issued.
	for k := slot.InteriorFirst; k <= slot.InteriorLast; k++ {
		got, ok := cached[k-pieceShift]
		if !ok {
			continue
		}
		atomic.AddInt64(&checked, 1)
		v.progress(1)
		if !bytes.Equal(got, v.desc.PieceDigest(k)) {
			sc.state = stateEliminated
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	computed := make(map[int][]byte)

	for k := slot.InteriorFirst; k <= slot.InteriorLast; k++ {
		if _, ok := cached[k-pieceShift]; ok {
			continue
		}
		want := v.desc.PieceDigest(k)

		k := k
		g.Go(func() error {
			start, length := v.desc.PieceSpan(k)
			digest, err := v.hasher.HashRange(gctx, sc.candidate.Path, start-slot.Start, length)
			if err != nil {
				return err
			}
			atomic.AddInt64(&checked, 1)
			v.progress(1)
			if !bytes.Equal(digest, want) {
				return errPieceMismatch
			}
			if aligned {
				mu.Lock()
				computed[k-pieceShift] = digest
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, errPieceMismatch) {
			v.log.Warn().Err(err).Str("path", sc.candidate.Path).Msg("candidate dropped on read error")
		}
		sc.state = stateEliminated
		return
	}

	sc.computed = computed
	sc.state = stateInteriorVerified
}
