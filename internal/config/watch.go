package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"
	"torii_shield/internal/dataType"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// WatchRules reloads the rule set whenever a .conf file under rulePath
// changes and hands the new set to onReload. A set that fails to load is
// logged and dropped; the caller keeps serving the previous one.
// It blocks until ctx is done.
func WatchRules(ctx context.Context, rulePath string, pool dataType.Pool, onReload func(*RuleSet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(rulePath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", rulePath, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRuleEvent(event) {
				continue
			}
			// editors write in bursts, reload once they settle
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[ERROR] rule watcher: %v", err)
		case <-pending:
			pending = nil
			rs, err := LoadRules(rulePath, pool)
			if err != nil {
				log.Printf("[ERROR] rule reload failed, keeping current rules: %v", err)
				continue
			}
			log.Printf("[INFO] rules reloaded, version %016x", rs.Version)
			onReload(rs)
		}
	}
}

func isRuleEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".conf" || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
