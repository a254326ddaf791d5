package logging

import (
	"cmp"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logPruneInterval = time.Minute

// logPruner keeps the log directory under a size budget by removing the
// oldest rotated files. The active log file is never removed.
type logPruner struct {
	dir      string
	maxBytes int64
	active   string
	cancel   context.CancelFunc
}

var activePruner *logPruner

// restartLogPrunerLocked replaces the running pruner. maxTotalSizeMB <= 0 disables pruning.
func restartLogPrunerLocked(logDir string, maxTotalSizeMB int, activeFile string) {
	stopLogPrunerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	p := &logPruner{
		dir:      filepath.Clean(dir),
		maxBytes: int64(maxTotalSizeMB) << 20,
	}
	if active := strings.TrimSpace(activeFile); active != "" {
		p.active = filepath.Clean(active)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	activePruner = p
	go p.run(ctx)
}

func stopLogPrunerLocked() {
	if activePruner == nil {
		return
	}
	activePruner.cancel()
	activePruner = nil
}

func (p *logPruner) run(ctx context.Context) {
	ticker := time.NewTicker(logPruneInterval)
	defer ticker.Stop()
	for {
		removed, err := p.prune()
		if err != nil {
			log.WithError(err).Warn("logging: failed to prune log directory")
		} else if removed > 0 {
			log.Debugf("logging: pruned %d old log file(s)", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type logFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// prune removes the oldest log files until the directory fits maxBytes and
// returns how many were removed.
func (p *logPruner) prune() (int, error) {
	files, total, err := p.scan()
	if err != nil || total <= p.maxBytes {
		return 0, err
	}
	slices.SortFunc(files, func(a, b logFileInfo) int { return cmp.Compare(a.modTime.UnixNano(), b.modTime.UnixNano()) })

	removed := 0
	for _, f := range files {
		if total <= p.maxBytes {
			break
		}
		if f.path == p.active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func (p *logPruner) scan() ([]logFileInfo, int64, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var (
		files []logFileInfo
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFileInfo{
			path:    filepath.Join(p.dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	return files, total, nil
}

// isLogFileName matches main.log and lumberjack backups such as
// main-2026-01-02T15-04-05.000.log(.gz).
func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
