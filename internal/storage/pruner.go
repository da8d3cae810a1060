package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachePruner evicts exported files from local disk by age and total size.
// A file is only removed once it is confirmed in S3.
type CachePruner struct {
	dir       string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	s3        *S3Store
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewCachePruner(dir string, retention time.Duration, maxGB int, s3 *S3Store, log zerolog.Logger) *CachePruner {
	return &CachePruner{
		dir:       dir,
		retention: retention,
		maxBytes:  int64(maxGB) << 30,
		interval:  time.Hour,
		s3:        s3,
		log:       log.With().Str("component", "cache-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *CachePruner) Start() { go p.loop() }

func (p *CachePruner) Stop() { p.stopOnce.Do(func() { close(p.stop) }) }

func (p *CachePruner) loop() {
	p.prune()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

type cachedFile struct {
	path    string
	key     string
	modTime time.Time
	size    int64
}

func (p *CachePruner) prune() {
	if p.retention == 0 && p.maxBytes == 0 {
		return
	}

	var files []cachedFile
	var total int64
	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.dir, path)
		if err != nil {
			return nil
		}
		files = append(files, cachedFile{path: path, key: filepath.ToSlash(rel), modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	cutoff := time.Now().Add(-p.retention)
	var pruned, skipped int
	var freed int64
	for _, f := range files {
		expired := p.retention > 0 && f.modTime.Before(cutoff)
		oversize := p.maxBytes > 0 && total > p.maxBytes
		if !expired && !oversize {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		inS3 := p.s3.Exists(ctx, f.key)
		cancel()
		if !inS3 {
			skipped++
			continue
		}
		if err := os.Remove(f.path); err == nil {
			pruned++
			freed += f.size
			total -= f.size
		}
	}
	removeEmptyDirs(p.dir)

	if pruned > 0 || skipped > 0 {
		p.log.Info().
			Int("pruned", pruned).
			Str("freed", humanizeBytes(freed)).
			Str("remaining", humanizeBytes(total)).
			Int("skipped_not_in_s3", skipped).
			Msg("cache prune complete")
	}
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
