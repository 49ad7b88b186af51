// sttworker is the forked on-device transcription worker. It speaks the
// line-delimited JSON protocol from pkg/stt/localproto over stdin/stdout
// and logs to stderr, where the engine forwards it.
//
// Build with -tags whisper to link the whisper.cpp bindings; the default
// build refuses to load a model so misconfiguration fails loudly.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/echonote-ai/echonote/pkg/stt/localproto"
)

var modelDir = flag.String("model-dir", "models", "directory holding ggml model files")

func main() {
	flag.Parse()
	log.SetPrefix("[Worker] ")

	server := localproto.NewServer(os.Stdin, os.Stdout, newEngine(*modelDir))
	if err := server.Run(); err != nil {
		log.Fatalf("protocol error: %v", err)
	}
}
