// Command downloaderproc is the isolated download child spawned by
// internal/download.Supervisor (spec §4.5, §9 process isolation).
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/FangAiden/Idle-NPU-Waker/internal/download"
)

func main() {
	hubURL := os.Getenv("IDLE_NPU_HUB_URL")
	hub := download.NewHTTPHubClient(hubURL, http.DefaultClient)
	download.RunChild(context.Background(), os.Stdin, os.Stdout, hub)
}
