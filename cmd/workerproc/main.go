// Command workerproc is the isolated worker subprocess spawned by
// internal/worker.Supervisor (spec §9: "process boundaries as the
// isolation primitive"). It speaks the newline-delimited JSON protocol
// defined in internal/worker/protocol.go over its own stdin/stdout.
package main

import (
	"context"
	"os"

	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

func main() {
	worker.RunLoop(context.Background(), os.Stdin, os.Stdout)
}
