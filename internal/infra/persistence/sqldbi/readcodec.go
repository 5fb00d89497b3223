package sqldbi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// readCodec packs the CIGAR, sequence and quality of a read into the data
// column of a read table.
type readCodec interface {
	encode(r domain.AssemblyRead) ([]byte, error)
	decode(data []byte, r *domain.AssemblyRead) error
}

func codecFor(compression string) readCodec {
	if compression == dbi.CompressionBits1 {
		return bitsCodec{}
	}
	return plainCodec{}
}

// plainCodec stores "CIGAR\nSEQUENCE\nQUALITY".
type plainCodec struct{}

func (plainCodec) encode(r domain.AssemblyRead) ([]byte, error) {
	if bytes.IndexByte(r.Sequence, '\n') >= 0 || bytes.IndexByte(r.Quality, '\n') >= 0 {
		return nil, domain.Preconditionf("read %q contains a line break", r.Name)
	}
	var b bytes.Buffer
	b.WriteString(domain.FormatCigar(r.Cigar))
	b.WriteByte('\n')
	b.Write(r.Sequence)
	b.WriteByte('\n')
	b.Write(r.Quality)
	return b.Bytes(), nil
}

func (plainCodec) decode(data []byte, r *domain.AssemblyRead) error {
	parts := bytes.SplitN(data, []byte{'\n'}, 3)
	if len(parts) != 3 {
		return fmt.Errorf("read %q: malformed packed data", r.Name)
	}
	cigar, err := domain.ParseCigar(string(parts[0]))
	if err != nil {
		return err
	}
	r.Cigar = cigar
	r.Sequence = bytes.Clone(parts[1])
	if len(parts[2]) > 0 {
		r.Quality = bytes.Clone(parts[2])
	}
	return nil
}

// bamNibbles is the 4-bit residue alphabet of BAM.
const bamNibbles = "=ACMGRSVTWYHKDBN"

var nibbleOf = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(bamNibbles); i++ {
		t[bamNibbles[i]] = int8(i)
	}
	return t
}()

const bitsPackedSequence = 1

// bitsCodec stores a flag byte, uvarint-packed CIGAR tokens (count<<4 | op),
// the sequence as 4-bit nibbles when every residue is in the BAM alphabet
// (raw bytes otherwise) and the raw quality string.
type bitsCodec struct{}

func (bitsCodec) encode(r domain.AssemblyRead) ([]byte, error) {
	packable := true
	for _, ch := range r.Sequence {
		if nibbleOf[ch] < 0 {
			packable = false
			break
		}
	}
	out := make([]byte, 1, 8+len(r.Cigar)*2+len(r.Sequence)/2+len(r.Quality))
	if packable {
		out[0] = bitsPackedSequence
	}
	out = binary.AppendUvarint(out, uint64(len(r.Cigar)))
	for _, t := range r.Cigar {
		if t.Count < 0 {
			return nil, domain.Preconditionf("read %q has negative cigar count", r.Name)
		}
		out = binary.AppendUvarint(out, uint64(t.Count)<<4|uint64(t.Op&0x0f))
	}
	out = binary.AppendUvarint(out, uint64(len(r.Sequence)))
	if packable {
		for i := 0; i < len(r.Sequence); i += 2 {
			b := byte(nibbleOf[r.Sequence[i]]) << 4
			if i+1 < len(r.Sequence) {
				b |= byte(nibbleOf[r.Sequence[i+1]])
			}
			out = append(out, b)
		}
	} else {
		out = append(out, r.Sequence...)
	}
	out = binary.AppendUvarint(out, uint64(len(r.Quality)))
	return append(out, r.Quality...), nil
}

func (bitsCodec) decode(data []byte, r *domain.AssemblyRead) error {
	bad := func(what string) error { return fmt.Errorf("read %q: truncated %s", r.Name, what) }
	if len(data) == 0 {
		return bad("header")
	}
	flags, p := data[0], data[1:]
	next := func() (uint64, bool) {
		v, n := binary.Uvarint(p)
		if n <= 0 {
			return 0, false
		}
		p = p[n:]
		return v, true
	}
	nCigar, ok := next()
	if !ok {
		return bad("cigar")
	}
	r.Cigar = make([]domain.CigarToken, 0, min(nCigar, uint64(len(p))))
	for range nCigar {
		v, ok := next()
		if !ok {
			return bad("cigar")
		}
		r.Cigar = append(r.Cigar, domain.CigarToken{Op: domain.CigarOp(v & 0x0f), Count: int(v >> 4)})
	}
	seqLen, ok := next()
	if !ok {
		return bad("sequence")
	}
	if flags&bitsPackedSequence != 0 {
		packed := int((seqLen + 1) / 2)
		if len(p) < packed {
			return bad("sequence")
		}
		r.Sequence = make([]byte, seqLen)
		for i := range r.Sequence {
			b := p[i/2]
			if i%2 == 0 {
				b >>= 4
			}
			r.Sequence[i] = bamNibbles[b&0x0f]
		}
		p = p[packed:]
	} else {
		if uint64(len(p)) < seqLen {
			return bad("sequence")
		}
		r.Sequence = bytes.Clone(p[:seqLen])
		p = p[seqLen:]
	}
	qLen, ok := next()
	if !ok || uint64(len(p)) < qLen {
		return bad("quality")
	}
	if qLen > 0 {
		r.Quality = bytes.Clone(p[:qLen])
	}
	return nil
}
