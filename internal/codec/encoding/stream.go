package encoding

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Every stream starts with a header (magic, format version) and ends with a
// footer (footer magic, xxhash64 of every preceding byte).
const (
	HeaderSize  = 5
	FooterSize  = 12
	FooterMagic = 0x54494654 // "TFIT"
)

// StreamWriter frames a stream and tracks its offset and running checksum.
type StreamWriter struct {
	w      io.Writer
	digest *xxhash.Digest
	offset int64
}

// NewStreamWriter writes the stream header and returns the framing writer.
func NewStreamWriter(w io.Writer, magic uint32, version byte) (*StreamWriter, error) {
	sw := &StreamWriter{w: w, digest: xxhash.New()}
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	header[4] = version
	if _, err := sw.Write(header[:]); err != nil {
		return nil, fmt.Errorf("writing stream header: %w", err)
	}
	return sw, nil
}

func (sw *StreamWriter) Write(p []byte) (int, error) {
	n, err := sw.w.Write(p)
	sw.digest.Write(p[:n])
	sw.offset += int64(n)
	return n, err
}

// Offset is the number of bytes written so far, header included.
func (sw *StreamWriter) Offset() int64 {
	return sw.offset
}

// Finish writes the footer. No writes may follow.
func (sw *StreamWriter) Finish() error {
	var footer [FooterSize]byte
	binary.LittleEndian.PutUint32(footer[0:4], FooterMagic)
	if _, err := sw.Write(footer[0:4]); err != nil {
		return fmt.Errorf("writing stream footer: %w", err)
	}
	binary.LittleEndian.PutUint64(footer[4:12], sw.digest.Sum64())
	if _, err := sw.w.Write(footer[4:12]); err != nil {
		return fmt.Errorf("writing stream checksum: %w", err)
	}
	sw.offset += 8
	return nil
}

// CheckHeader validates the header of an in-memory stream and returns the
// format version.
func CheckHeader(data []byte, magic uint32, what string) (byte, error) {
	if len(data) < HeaderSize+FooterSize {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "%s: stream of %d bytes is too short", what, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != magic {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "%s: bad magic %#x", what, got)
	}
	return data[4], nil
}

// Verify checks header, footer magic and checksum of an in-memory stream and
// returns its body (the bytes between header and footer).
func Verify(data []byte, magic uint32, what string) ([]byte, error) {
	if _, err := CheckHeader(data, magic, what); err != nil {
		return nil, err
	}
	footer := data[len(data)-FooterSize:]
	if got := binary.LittleEndian.Uint32(footer[0:4]); got != FooterMagic {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "%s: bad footer magic %#x", what, got)
	}
	want := binary.LittleEndian.Uint64(footer[4:12])
	if got := xxhash.Sum64(data[:len(data)-8]); got != want {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "%s: checksum mismatch %016x != %016x", what, got, want)
	}
	return data[HeaderSize : len(data)-FooterSize], nil
}

// ReadHeader validates the header of a random-access stream and returns the
// format version.
func ReadHeader(r io.ReaderAt, size int64, magic uint32, what string) (byte, error) {
	if size < HeaderSize+FooterSize {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "%s: stream of %d bytes is too short", what, size)
	}
	var header [HeaderSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "%s: reading header: %v", what, err)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "%s: bad magic %#x", what, got)
	}
	return header[4], nil
}

// VerifyReaderAt streams through a random-access stream of the given size
// and validates it like Verify without loading it into memory.
func VerifyReaderAt(r io.ReaderAt, size int64, magic uint32, what string) error {
	if _, err := ReadHeader(r, size, magic, what); err != nil {
		return err
	}
	digest := xxhash.New()
	section := io.NewSectionReader(r, 0, size-8)
	if _, err := io.CopyBuffer(digest, section, make([]byte, 64*1024)); err != nil {
		return apperrors.Newf(apperrors.ErrCorruptData, "%s: reading body: %v", what, err)
	}
	var footer [FooterSize]byte
	if _, err := r.ReadAt(footer[:], size-FooterSize); err != nil && err != io.EOF {
		return apperrors.Newf(apperrors.ErrCorruptData, "%s: reading footer: %v", what, err)
	}
	if got := binary.LittleEndian.Uint32(footer[0:4]); got != FooterMagic {
		return apperrors.Newf(apperrors.ErrCorruptData, "%s: bad footer magic %#x", what, got)
	}
	if got, want := digest.Sum64(), binary.LittleEndian.Uint64(footer[4:12]); got != want {
		return apperrors.Newf(apperrors.ErrCorruptData, "%s: checksum mismatch %016x != %016x", what, got, want)
	}
	return nil
}
