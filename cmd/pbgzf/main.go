// See doc.go for documentation.
package main

import (
	"flag"
	"io"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/pbgzf/encoding/bgzf"
	"v.io/x/lib/vlog"
)

var (
	parallelism      = flag.Int("parallelism", bgzf.DefaultParallelism, "number of compressor goroutines")
	compressionLevel = flag.Int("level", bgzf.DefaultCompressionLevel, "deflate compression level, 1-9 (0 selects the default)")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	w := bgzf.NewWriter(os.Stdout, bgzf.Options{
		CompressionLevel: *compressionLevel,
		Parallelism:      *parallelism,
	})

	if _, err := io.Copy(w, os.Stdin); err != nil {
		vlog.Fatalf("pbgzf: copying stdin: %v", err)
	}
	if err := w.Close(); err != nil {
		vlog.Fatalf("pbgzf: closing bgzf stream: %v", err)
	}
}
