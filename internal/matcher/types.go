package matcher

import (
	"context"
	"crypto/sha1"
	"path/filepath"

	"github.com/anacrolix/torrent/metainfo"
)

// HashSize is the length of a piece digest in bytes.
const HashSize = sha1.Size

// File is a single entry in a torrent's file list, in torrent order.
type File struct {
	Path   string
	Length int64
}

// Descriptor is the decoded torrent metainfo the matcher consumes. It is
// immutable for the duration of a match.
type Descriptor struct {
	PieceLength int64
	Pieces      []byte // concatenated 20-byte digests
	Files       []File

	totalLength int64
}

// NewDescriptor validates the decoded metainfo fields and returns a
// Descriptor. It returns ErrTorrentMalformed when the piece length is not
// positive or the digest blob does not cover exactly ceil(total/pieceLength)
// pieces.
func NewDescriptor(pieceLength int64, pieces []byte, files []File) (*Descriptor, error) {
	if pieceLength <= 0 {
		return nil, errMalformed("piece length %d is not positive", pieceLength)
	}
	if len(pieces)%HashSize != 0 {
		return nil, errMalformed("piece digest blob of %d bytes is not a multiple of %d", len(pieces), HashSize)
	}

	var total int64
	for _, f := range files {
		if f.Length < 0 {
			return nil, errMalformed("file %q has negative length %d", f.Path, f.Length)
		}
		total += f.Length
	}

	wantPieces := int((total + pieceLength - 1) / pieceLength)
	if len(pieces)/HashSize != wantPieces {
		return nil, errMalformed("torrent of %d bytes needs %d piece digests, got %d", total, wantPieces, len(pieces)/HashSize)
	}

	return &Descriptor{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Files:       files,
		totalLength: total,
	}, nil
}

// FromInfo converts an unmarshalled info dictionary into a Descriptor,
// handling both the single-file and multi-file layouts.
func FromInfo(info *metainfo.Info) (*Descriptor, error) {
	var files []File
	if info.IsDir() {
		files = make([]File, 0, len(info.Files))
		for _, f := range info.Files {
			files = append(files, File{
				Path:   filepath.ToSlash(filepath.Join(f.Path...)),
				Length: f.Length,
			})
		}
	} else {
		files = []File{{Path: info.Name, Length: info.Length}}
	}
	return NewDescriptor(info.PieceLength, info.Pieces, files)
}

// TotalLength returns the length of the torrent's virtual byte stream.
func (d *Descriptor) TotalLength() int64 { return d.totalLength }

// NumPieces returns the number of pieces in the torrent.
func (d *Descriptor) NumPieces() int { return len(d.Pieces) / HashSize }

// PieceDigest returns the expected digest of piece i.
func (d *Descriptor) PieceDigest(i int) []byte {
	return d.Pieces[i*HashSize : (i+1)*HashSize]
}

// PieceSpan returns the byte range [start, start+length) piece i covers in
// the virtual stream. The final piece may be shorter than PieceLength.
func (d *Descriptor) PieceSpan(i int) (start, length int64) {
	start = int64(i) * d.PieceLength
	length = d.PieceLength
	if start+length > d.totalLength {
		length = d.totalLength - start
	}
	return start, length
}

// Slot is the byte range one torrent file occupies in the virtual stream,
// together with its piece geometry. Slots are derived once per match by
// BuildSlots.
type Slot struct {
	Index int
	Path  string
	Size  int64
	Start int64 // inclusive offset in the stream
	End   int64 // exclusive

	FirstPiece int
	LastPiece  int

	// PrefixLen is the number of bytes the slot's first piece borrows from
	// preceding slots; zero iff the slot starts piece-aligned.
	PrefixLen int64
	// SuffixLen is the number of bytes the slot's last piece borrows from
	// following slots; zero iff the slot ends piece-aligned or at the end of
	// the stream.
	SuffixLen int64

	// Interior piece indices form the contiguous range
	// [InteriorFirst, InteriorLast]; InteriorFirst > InteriorLast means the
	// slot has no interior pieces. A zero-size slot covers no pieces at all.
	InteriorFirst int
	InteriorLast  int
}

// HasInterior reports whether the slot contains at least one piece that lies
// wholly inside it.
func (s *Slot) HasInterior() bool { return s.Size > 0 && s.InteriorFirst <= s.InteriorLast }

// InteriorCount returns the number of interior pieces.
func (s *Slot) InteriorCount() int {
	if !s.HasInterior() {
		return 0
	}
	return s.InteriorLast - s.InteriorFirst + 1
}

// Candidate is a local file whose size equals a slot's size, proposed as a
// possible content match. FileHash is the catalog's whole-file digest, used
// opaquely as the piece-cache key.
type Candidate struct {
	Path     string
	FileHash string
	Size     int64
}

// CandidateSource yields size-matched candidates from the file catalog. The
// name argument is the slot's torrent-relative path; implementations may use
// it to order results. It affects which candidates are returned only when an
// implementation caps the result count and keeps the first ones in that order.
type CandidateSource interface {
	Candidates(ctx context.Context, size int64, name string) ([]Candidate, error)
}

// PieceStore caches per-(file, piece-length) digests across matches. Lookup
// failures and Put failures are recoverable; callers treat them as a cold
// cache.
type PieceStore interface {
	Lookup(ctx context.Context, fileHash string, pieceLength int64) (map[int][]byte, error)
	Put(ctx context.Context, fileHash string, pieceLength int64, digests map[int][]byte) error
}

// FileMatch is the per-torrent-file result: the local paths whose content is
// bit-identical to the file under the torrent's piece layout. Locations keeps
// the candidate-source order; an empty slice means no local match.
type FileMatch struct {
	Path      string   `json:"path"`
	Size      int64    `json:"size"`
	Locations []string `json:"locations"`
}

type candidateState int

const (
	statePending candidateState = iota
	stateInteriorVerified
	stateBoundaryVerified
	stateAccepted
	stateEliminated
)

// slotCandidate tracks one (slot, candidate) pair through the verification
// state machine.
type slotCandidate struct {
	candidate Candidate
	state     candidateState

	// computed holds digests calculated during interior verification, for
	// write-back to the piece store after the match commits.
	computed map[int][]byte
}

func (sc *slotCandidate) eliminated() bool { return sc.state == stateEliminated }
