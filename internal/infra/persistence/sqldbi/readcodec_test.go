package sqldbi

import (
	"bytes"
	"testing"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

func TestReadCodecsRoundTrip(t *testing.T) {
	cigar, _ := domain.ParseCigar("3S10M2I4M1D5M")
	reads := []domain.AssemblyRead{
		{Name: "packable", Cigar: cigar, Sequence: []byte("ACGTNACGTMRSVWYHKDB"), Quality: []byte("IIIIIIIIIIIIIIIIIII")},
		{Name: "odd", Cigar: cigar, Sequence: []byte("ACG")},
		{Name: "raw", Cigar: cigar, Sequence: []byte("acgtXX"), Quality: []byte("######")},
		{Name: "empty"},
	}
	for _, compression := range []string{dbi.CompressionNone, dbi.CompressionBits1} {
		codec := codecFor(compression)
		for _, in := range reads {
			data, err := codec.encode(in)
			if err != nil {
				t.Fatalf("%s/%s: encode: %v", compression, in.Name, err)
			}
			out := domain.AssemblyRead{Name: in.Name}
			if err := codec.decode(data, &out); err != nil {
				t.Fatalf("%s/%s: decode: %v", compression, in.Name, err)
			}
			if domain.FormatCigar(out.Cigar) != domain.FormatCigar(in.Cigar) {
				t.Fatalf("%s/%s: cigar %v != %v", compression, in.Name, out.Cigar, in.Cigar)
			}
			if !bytes.Equal(out.Sequence, in.Sequence) || !bytes.Equal(out.Quality, in.Quality) {
				t.Fatalf("%s/%s: got %q/%q", compression, in.Name, out.Sequence, out.Quality)
			}
		}
	}
}

func TestBitsCodecPacksNibbles(t *testing.T) {
	seq := bytes.Repeat([]byte("ACGT"), 25)
	data, err := bitsCodec{}.encode(domain.AssemblyRead{Sequence: seq})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0]&bitsPackedSequence == 0 {
		t.Fatalf("expected packed flag")
	}
	if len(data) > len(seq)/2+8 {
		t.Fatalf("expected about half the bytes, got %d for %d residues", len(data), len(seq))
	}
}

func TestBitsCodecRejectsTruncatedData(t *testing.T) {
	data, _ := bitsCodec{}.encode(domain.AssemblyRead{Sequence: []byte("ACGTACGT"), Quality: []byte("IIIIIIII")})
	for _, n := range []int{0, 1, 3, len(data) - 1} {
		var r domain.AssemblyRead
		if err := (bitsCodec{}).decode(data[:n], &r); err == nil {
			t.Fatalf("expected error for %d of %d bytes", n, len(data))
		}
	}
}

func TestPlainCodecRejectsLineBreaks(t *testing.T) {
	_, err := plainCodec{}.encode(domain.AssemblyRead{Name: "x", Sequence: []byte("AC\nGT")})
	mustErrIs(t, err, domain.ErrPrecondition)
}
