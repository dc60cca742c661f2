// SPDX-License-Identifier: MIT

// Package assets tracks the on-disk companion files the pipeline depends
// on: the subtitle display font and the upload thumbnail. Both may appear
// or change while the daemon runs, so availability is re-probed on
// filesystem events instead of only at startup.
package assets

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/heavenlysubs/submux/internal/log"
)

// Manager resolves asset paths and keeps their availability current.
type Manager struct {
	mu        sync.RWMutex
	fontPath  string
	thumbPath string
	fontOK    bool
	thumbOK   bool

	stickerID string
	logger    zerolog.Logger
}

// New probes the configured paths once. Missing assets are logged and the
// affected feature degrades (no font attach, no thumbnail) instead of
// failing the pipeline.
func New(fontPath, thumbPath, stickerID string) *Manager {
	m := &Manager{
		fontPath:  fontPath,
		thumbPath: thumbPath,
		stickerID: stickerID,
		logger:    log.WithComponent("assets"),
	}
	m.probe()
	return m
}

func (m *Manager) probe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fontOK = exists(m.fontPath)
	m.thumbOK = exists(m.thumbPath)
	if m.fontPath != "" && !m.fontOK {
		m.logger.Warn().Str("path", m.fontPath).Msg("display font missing; muxed files will not embed it")
	}
	if m.thumbPath != "" && !m.thumbOK {
		m.logger.Warn().Str("path", m.thumbPath).Msg("thumbnail missing; uploads go out bare")
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Font returns the font path, or "" when the file is unavailable.
func (m *Manager) Font() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.fontOK {
		return ""
	}
	return m.fontPath
}

// Thumbnail returns the thumbnail path, or "" when unavailable.
func (m *Manager) Thumbnail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.thumbOK {
		return ""
	}
	return m.thumbPath
}

// StickerID returns the greeting sticker's file ID ("" disables it).
func (m *Manager) StickerID() string { return m.stickerID }

// Watch re-probes assets whenever their parent directories change, until
// ctx is cancelled. Returns immediately when no assets are configured.
func (m *Manager) Watch(ctx context.Context) error {
	dirs := map[string]struct{}{}
	for _, p := range []string{m.fontPath, m.thumbPath} {
		if p != "" {
			dirs[filepath.Dir(p)] = struct{}{}
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			m.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch asset directory")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == m.fontPath || ev.Name == m.thumbPath {
				m.logger.Debug().Str("event", ev.String()).Msg("asset changed; re-probing")
				m.probe()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn().Err(err).Msg("asset watcher error")
		}
	}
}
