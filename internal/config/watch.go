package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WatchFactoryNetwork reloads the factory network file on change and calls
// onUpdate with the latest version. It performs an initial load before
// entering the watch loop. A failed reload keeps the previous version active
// and is reported to onError once per file change.
func WatchFactoryNetwork(ctx context.Context, path string, interval time.Duration, onUpdate func(*FactoryNetwork), onError func(error)) error {
	if path == "" {
		path = "configs/factory_network.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if onError == nil {
		onError = func(error) {}
	}

	fn, err := LoadFactoryNetwork(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(fn)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		statFailing := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					if !statFailing {
						onError(fmt.Errorf("stat factory network: %w", err))
					}
					statFailing = true
					continue
				}
				statFailing = false
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				fn, err := LoadFactoryNetwork(path)
				if err != nil {
					onError(fmt.Errorf("reload rejected, previous version stays active: %w", err))
					continue
				}
				if onUpdate != nil {
					onUpdate(fn)
				}
			}
		}
	}()

	return nil
}
