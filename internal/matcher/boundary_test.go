package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_PieceSpanningThreeSlots(t *testing.T) {
	dir := t.TempDir()
	pieceLen := int64(100)
	a := randomBytes(t, 150)
	b := randomBytes(t, 30)
	c := randomBytes(t, 120)
	d := buildDescriptor(t, pieceLen, []testFile{
		{name: "a.bin", content: a},
		{name: "b.bin", content: b},
		{name: "c.bin", content: c},
	})

	// Piece 1 covers the tail of a, all of b, and the head of c. The wrong b
	// candidate can only be rejected by jointly hashing the triple.
	source := newMemSource()
	ca := writeCandidate(t, dir, "a.bin", a)
	cb := writeCandidate(t, dir, "b.bin", b)
	badB := writeCandidate(t, dir, "bad-b.bin", randomBytes(t, 30))
	cc := writeCandidate(t, dir, "c.bin", c)
	source.add(ca)
	source.add(cb)
	source.add(badB)
	source.add(cc)

	m := newTestMatcher(source, newMemStore(), NewFileHasher(4))
	result, err := m.Match(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, []string{ca.Path}, result.Files[0].Locations)
	assert.Equal(t, []string{cb.Path}, result.Files[1].Locations)
	assert.Equal(t, []string{cc.Path}, result.Files[2].Locations)
}

func TestMatch_EliminationCascadesBackward(t *testing.T) {
	dir := t.TempDir()
	pieceLen := int64(100)
	w := randomBytes(t, 90)
	x := randomBytes(t, 120)
	y := randomBytes(t, 90)
	d := buildDescriptor(t, pieceLen, []testFile{
		{name: "w.bin", content: w},
		{name: "x.bin", content: x},
		{name: "y.bin", content: y},
	})

	// y has no correct candidate: the only 90-byte file is w's, which y's
	// slot also receives. The piece straddling x and y therefore eliminates
	// x's candidate; that in turn strands w's candidate across the first
	// boundary, even though w itself is byte-correct.
	source := newMemSource()
	source.add(writeCandidate(t, dir, "w.bin", w))
	source.add(writeCandidate(t, dir, "x.bin", x))

	m := newTestMatcher(source, newMemStore(), NewFileHasher(4))
	result, err := m.Match(context.Background(), d)
	require.NoError(t, err)

	for _, f := range result.Files {
		assert.Empty(t, f.Locations, "no slot can be verified once the chain breaks")
	}
}

func TestMatch_BoundaryComboOverflowKeepsCandidates(t *testing.T) {
	dir := t.TempDir()
	pieceLen := int64(1 << 14)
	f1 := randomBytes(t, pieceLen-10)
	f2 := randomBytes(t, pieceLen+10)
	d := buildDescriptor(t, pieceLen, []testFile{
		{name: "f1.bin", content: f1},
		{name: "f2.bin", content: f2},
	})

	source := newMemSource()
	good1 := writeCandidate(t, dir, "good1.bin", f1)
	bad1 := writeCandidate(t, dir, "bad1.bin", randomBytes(t, pieceLen-10))
	good2 := writeCandidate(t, dir, "good2.bin", f2)
	source.add(good1)
	source.add(bad1)
	source.add(good2)

	m := New(source, newMemStore(), NewFileHasher(4), Options{MaxBoundaryCombos: 1})
	result, err := m.Match(context.Background(), d)
	require.NoError(t, err)

	// Above the cap the boundary stops constraining: survivors are reported
	// conservatively, biased to false positives.
	assert.Equal(t, []string{good1.Path, bad1.Path}, result.Files[0].Locations)
	assert.Equal(t, []string{good2.Path}, result.Files[1].Locations)
}

func TestBuildBoundaryPieces_TwoSlotGeometry(t *testing.T) {
	d := descriptorForSizes(t, 100, 90, 110)
	slots := BuildSlots(d)
	pieces := buildBoundaryPieces(d, slots)

	require.Len(t, pieces, 1)
	p := pieces[0]
	assert.Equal(t, 0, p.index)
	require.Len(t, p.spans, 2)
	assert.Equal(t, boundarySpan{slot: 0, offset: 0, length: 90}, p.spans[0])
	assert.Equal(t, boundarySpan{slot: 1, offset: 0, length: 10}, p.spans[1])
}

func TestBuildBoundaryPieces_AlignedHasNone(t *testing.T) {
	d := descriptorForSizes(t, 100, 200, 300, 100)
	pieces := buildBoundaryPieces(d, BuildSlots(d))
	assert.Empty(t, pieces)
}
