package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/FangAiden/Idle-NPU-Waker/internal/api"
	"github.com/FangAiden/Idle-NPU-Waker/internal/config"
	"github.com/FangAiden/Idle-NPU-Waker/internal/download"
	"github.com/FangAiden/Idle-NPU-Waker/internal/frontend"
	"github.com/FangAiden/Idle-NPU-Waker/internal/i18n"
	"github.com/FangAiden/Idle-NPU-Waker/internal/session"
	"github.com/FangAiden/Idle-NPU-Waker/internal/settingsres"
	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

func main() {
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "", "Path to config file (defaults to the XDG config directory)")
	dataDir := flag.String("data-dir", "", "Override the data directory (defaults to IDLE_NPU_DATA_DIR or XDG data home)")
	port := flag.Int("port", 0, "Override server port")
	workerPath := flag.String("worker-path", "", "Path to the workerproc binary (defaults to the sibling of this executable)")
	downloaderPath := flag.String("downloader-path", "", "Path to the downloaderproc binary (defaults to the sibling of this executable)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if v := os.Getenv("IDLE_NPU_HOST"); v != "" {
		cfg.Server.Host = v
	}

	paths, err := config.ResolvePaths(*dataDir)
	if err != nil {
		log.Fatalf("Failed to resolve data directory layout: %v", err)
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	config.WatchPathOverrides(paths.DataDir, watchDone)

	store, err := session.NewStore(paths.SessionsDB, filepath.Join(paths.DataDir, "sessions.json"))
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer store.Close()

	schema, err := settingsres.LoadSchema(filepath.Join(paths.ConfigDir, "settings_schema.json"))
	if err != nil {
		log.Fatalf("Failed to load settings schema: %v", err)
	}

	translations, err := i18n.New()
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	exe, _ := os.Executable()
	exeDir := filepath.Dir(exe)
	modelSup := worker.NewSupervisor(worker.ExecSpawner{WorkerPath: resolveSidecar(*workerPath, exeDir, "workerproc")})
	dlSup := download.NewSupervisor(
		download.ExecSpawner{ChildPath: resolveSidecar(*downloaderPath, exeDir, "downloaderproc"), HubURL: os.Getenv("IDLE_NPU_HUB_URL")},
		paths.ModelsDir, paths.DownloadCacheDir,
	)

	var frontendHandler http.Handler
	if *devMode {
		cwd, _ := os.Getwd()
		dir := filepath.Join(cwd, "frontend")
		if _, err := os.Stat(dir); err == nil {
			frontendHandler = http.FileServer(http.Dir(dir))
		}
	} else {
		frontendHandler = frontend.Handler()
	}

	server := api.NewServer(cfg, paths, store, modelSup, dlSup, translations, schema, frontendHandler, func() {
		modelSup.Shutdown()
		_ = dlSup.Stop()
		os.Exit(0)
	})

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		modelSup.Shutdown()
		_ = dlSup.Stop()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Idle NPU Waker listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// resolveSidecar returns explicit if set, else the named binary next to
// this executable -- a packaged build ships the worker and download
// child as sibling binaries, spawned by path rather than looked up on
// PATH (spec §9: "process boundaries as the isolation primitive").
func resolveSidecar(explicit, exeDir, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(exeDir, name)
}
