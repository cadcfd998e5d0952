package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/vlbadb/vlbadb/storage/extent"
)

// SourceReader reads a MEDIUM value's raw bytes out of the named input
// CT's data extent, so the merge pipeline can physically copy it into
// the output CT's data extent (SPEC_FULL §4.4 step 5).
type SourceReader func(extentID uint64, offset uint64, length uint32) ([]byte, error)

// DataWriter performs the MEDIUM-value physical copy into one output
// data extent, zstd-compressing each value before it lands (the
// domain stack's klauspost/compress wiring): bursts of small, similar
// values are exactly where a dictionary-free streaming codec like
// zstd earns back its framing overhead, and chunk-aligned extents
// benefit from every byte compression reclaims.
type DataWriter struct {
	out extent.Extent
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDataWriter wraps an opened output data extent.
func NewDataWriter(out extent.Extent) (*DataWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "merge: new zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "merge: new zstd decoder")
	}
	return &DataWriter{out: out, enc: enc, dec: dec}, nil
}

// ExtentID returns the output extent's id, for stamping onto the
// CVT_MEDIUM entries CopyMedium relocates.
func (w *DataWriter) ExtentID() uint64 { return uint64(w.out.ID()) }

// CopyMedium compresses raw and appends it to the output extent,
// returning the byte offset and compressed length the new CVT_MEDIUM
// entry should reference.
func (w *DataWriter) CopyMedium(raw []byte) (offset uint64, length uint32, err error) {
	compressed := w.enc.EncodeAll(raw, nil)
	off, err := w.out.Append(compressed)
	if err != nil {
		return 0, 0, errors.Wrap(err, "merge: append medium value")
	}
	return off, uint32(len(compressed)), nil
}

// ReadMedium decompresses a previously-written MEDIUM value back to
// its raw bytes. Neither the merge pipeline nor the DA's read path
// calls it; this package's tests do.
func (w *DataWriter) ReadMedium(offset uint64, length uint32) ([]byte, error) {
	compressed, err := w.out.ReadAt(offset, length)
	if err != nil {
		return nil, errors.Wrap(err, "merge: read medium value")
	}
	raw, err := w.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "merge: decode medium value")
	}
	return raw, nil
}

// Close releases the encoder/decoder's background resources.
func (w *DataWriter) Close() {
	w.enc.Close()
	w.dec.Close()
}
