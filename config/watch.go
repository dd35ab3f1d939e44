package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/nabbar/zproxy/logger"
)

// WatchCertDir watches dir for filesystem events (certificate rotation) and
// invokes onChange for every event, logging failures through log.
//
// The returned *fsnotify.Watcher must be closed by the caller on shutdown.
func WatchCertDir(dir string, log logger.Logger, onChange func()) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ErrorFileRead.Error(err)
	}

	if err = w.Add(dir); err != nil {
		_ = w.Close()
		return nil, ErrorFileRead.Error(err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				log.Debug("cert directory event: %s", ev.String())
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warning("cert directory watch error: %s", err.Error())
			}
		}
	}()

	return w, nil
}
