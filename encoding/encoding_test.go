package encoding

import (
	"io"
	"testing"
)

func TestNegotiatePicksFirstMatch(t *testing.T) {
	got, ok := Negotiate([]string{"zstd", "gzip", "identity"}, []string{"identity", "gzip"})
	if !ok || got != "gzip" {
		t.Errorf("Negotiate() = (%q, %v), want (gzip, true)", got, ok)
	}
}

func TestNegotiateNoMatch(t *testing.T) {
	_, ok := Negotiate([]string{"zstd"}, []string{"gzip"})
	if ok {
		t.Error("Negotiate() ok = true, want false for disjoint sets")
	}
}

func TestRegisterAndGetCompressor(t *testing.T) {
	RegisterCompressor(&fakeCompressor{name: "fake-test-codec"})

	c, ok := GetCompressor("fake-test-codec")
	if !ok {
		t.Fatal("GetCompressor did not find registered compressor")
	}
	if c.Name() != "fake-test-codec" {
		t.Errorf("Name() = %q", c.Name())
	}
}

type fakeCompressor struct{ name string }

func (f *fakeCompressor) Name() string { return f.name }
func (f *fakeCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nil, nil
}
func (f *fakeCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return nil, nil
}
