package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WatchPathOverrides logs when paths.json changes on disk after process
// start. Per spec §9 ("the dispatcher and supervisors must not mutate path
// overrides at runtime"), this is observational only -- it never re-resolves
// or applies the change to the running Paths value. Callers that want the
// new layout must restart the process.
func WatchPathOverrides(dataDir string, done <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("config: path-override watch disabled: %v", err)
		return
	}

	if err := watcher.Add(dataDir); err != nil {
		log.Printf("config: path-override watch disabled: %v", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepathBase(event.Name) == "paths.json" && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Printf("config: paths.json changed on disk; restart to apply")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()
}

func filepathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
