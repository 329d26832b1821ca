// Package gzipcodec registers "gzip" as a grpc-encoding compression
// algorithm, the one every gRPC implementation is expected to support.
package gzipcodec

import (
	"compress/gzip"
	"io"

	"github.com/sadopc/rpccore/encoding"
)

const Name = "gzip"

type compressor struct {
	level int
}

// Register installs the gzip compressor at the given compression level
// (gzip.DefaultCompression if level is 0) into the global compressor
// registry.
func Register(level int) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	encoding.RegisterCompressor(&compressor{level: level})
}

func (c *compressor) Name() string { return Name }

func (c *compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

func (c *compressor) Decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}
