package matcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes a Matcher. The zero value selects defaults.
type Options struct {
	// MaxBoundaryCombos caps combination growth when joining candidates
	// across a boundary piece; 0 selects DefaultMaxBoundaryCombos.
	MaxBoundaryCombos int

	// Display receives progress callbacks; nil selects NoopDisplay.
	Display Displayer

	Logger zerolog.Logger
}

// Matcher drives a full match: slot derivation, candidate lookup, interior
// verification and boundary joining. It never mutates the filesystem.
type Matcher struct {
	source    CandidateSource
	store     PieceStore
	hasher    Hasher
	display   Displayer
	log       zerolog.Logger
	maxCombos int
}

// Result is the outcome of one match, in torrent file order.
type Result struct {
	Files   []FileMatch
	Elapsed time.Duration
}

// New assembles a Matcher from its collaborators. The candidate source and
// piece store are external; the hasher is typically a FileHasher sized to
// the configured read cap.
func New(source CandidateSource, store PieceStore, hasher Hasher, opts Options) *Matcher {
	if opts.MaxBoundaryCombos <= 0 {
		opts.MaxBoundaryCombos = DefaultMaxBoundaryCombos
	}
	if opts.Display == nil {
		opts.Display = NoopDisplay{}
	}
	return &Matcher{
		source:    source,
		store:     store,
		hasher:    hasher,
		display:   opts.Display,
		log:       opts.Logger,
		maxCombos: opts.MaxBoundaryCombos,
	}
}

// Match finds, for every file in the torrent, the local paths whose content
// is bit-identical to that file under the torrent's piece layout.
func (m *Matcher) Match(ctx context.Context, d *Descriptor) (*Result, error) {
	start := time.Now()
	log := m.log.With().Str("match_id", uuid.NewString()).Logger()

	slots := BuildSlots(d)
	boundaries := buildBoundaryPieces(d, slots)

	log.Info().
		Int("files", len(slots)).
		Int("pieces", d.NumPieces()).
		Int("boundary_pieces", len(boundaries)).
		Int64("piece_length", d.PieceLength).
		Msg("starting match")

	// Candidates are fetched up front so the progress total is known before
	// any hashing starts.
	perSlot := make([][]Candidate, len(slots))
	totalWork := len(boundaries)
	for i := range slots {
		cands, err := m.source.Candidates(ctx, slots[i].Size, slots[i].Path)
		if err != nil {
			return nil, err
		}
		perSlot[i] = cands
		totalWork += slots[i].InteriorCount() * len(cands)
	}

	var completed int64
	progress := func(delta int) {
		m.display.UpdateProgress(int(atomic.AddInt64(&completed, int64(delta))))
	}
	m.display.ShowProgress(totalWork)
	defer m.display.FinishProgress()

	verifier := &interiorVerifier{
		desc:     d,
		hasher:   m.hasher,
		store:    m.store,
		log:      log,
		progress: progress,
	}

	states := make([][]*slotCandidate, len(slots))
	for i := range slots {
		st, err := verifier.verifySlot(ctx, &slots[i], perSlot[i])
		if err != nil {
			return nil, err
		}
		for _, sc := range st {
			if sc.state == stateInteriorVerified {
				continue
			}
			log.Debug().
				Str("file", slots[i].Path).
				Str("candidate", sc.candidate.Path).
				Msg("candidate eliminated by interior pieces")
		}
		states[i] = st
	}

	joiner := &boundaryJoiner{
		desc:      d,
		hasher:    m.hasher,
		maxCombos: m.maxCombos,
		log:       log,
		progress:  progress,
	}
	if err := joiner.join(ctx, slots, states); err != nil {
		return nil, err
	}

	files := make([]FileMatch, len(slots))
	for i := range slots {
		locations := make([]string, 0, len(states[i]))
		for _, sc := range states[i] {
			if sc.eliminated() {
				continue
			}
			sc.state = stateAccepted
			locations = append(locations, sc.candidate.Path)
		}
		files[i] = FileMatch{
			Path:      slots[i].Path,
			Size:      slots[i].Size,
			Locations: locations,
		}
	}

	m.writeBack(ctx, states, d.PieceLength, log)

	elapsed := time.Since(start)
	log.Info().Dur("elapsed", elapsed).Msg("match complete")
	return &Result{Files: files, Elapsed: elapsed}, nil
}

// writeBack persists digests computed during this match. Failures are
// logged and dropped; the next match simply recomputes.
func (m *Matcher) writeBack(ctx context.Context, states [][]*slotCandidate, pieceLength int64, log zerolog.Logger) {
	for _, slotStates := range states {
		for _, sc := range slotStates {
			if len(sc.computed) == 0 {
				continue
			}
			// Cache keys are candidate-local piece indices.
			if err := m.store.Put(ctx, sc.candidate.FileHash, pieceLength, sc.computed); err != nil {
				log.Warn().Err(err).Str("file_hash", sc.candidate.FileHash).Msg("piece cache write failed")
			}
		}
	}
}
