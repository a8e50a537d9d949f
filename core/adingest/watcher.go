package adingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
	"EchoFM/storage"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must stay quiet before we treat the
// copy into the drop directory as finished.
const settleDelay = 2 * time.Second

var audioExts = map[string]string{
	".mp3": "audio/mpeg",
	".m4a": "audio/mp4",
	".ogg": "audio/ogg",
	".wav": "audio/wav",
}

// Watcher ingests ad creatives dropped into a local directory: each new
// audio file is uploaded to object storage and registered as an inactive
// ad, waiting for an operator to flip it live.
type Watcher struct {
	dir string
	ads repository.AdRepository
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher 创建广告素材投放监听器
func NewWatcher(dir string, ads repository.AdRepository) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ad drop dir %s: %w", dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		ads:     ads,
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run blocks processing filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	logger.Info("ad creative watcher started", logger.String("dir", w.dir))

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("ad creative watcher error", logger.ErrorField(err))

		case <-ctx.Done():
			return
		}
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
	return w.fsw.Close()
}

// schedule (re)arms the settle timer for a file. Every write pushes the
// ingest further out, so half-copied files are never picked up.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if _, ok := audioExts[strings.ToLower(filepath.Ext(path))]; !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if err := w.ingest(ctx, path); err != nil {
			logger.Error("failed to ingest ad creative",
				logger.String("file", path),
				logger.ErrorField(err))
		}
	})
}

// ingest uploads one creative and registers it as an inactive ad.
func (w *Watcher) ingest(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open creative: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat creative: %w", err)
	}

	name := filepath.Base(path)
	contentType := audioExts[strings.ToLower(filepath.Ext(name))]
	objectName := "ads/" + name

	audioURL, err := storage.UploadObject(ctx, objectName, f, info.Size(), contentType)
	if err != nil {
		return fmt.Errorf("failed to upload creative: %w", err)
	}

	title := strings.TrimSuffix(name, filepath.Ext(name))
	ad := &model.Ad{
		Title:    title,
		AudioURL: audioURL,
		Active:   false, // 等待运营审核后启用
	}
	if err := w.ads.CreateAd(ad); err != nil {
		return fmt.Errorf("failed to register creative: %w", err)
	}

	logger.Info("ad creative ingested",
		logger.String("title", title),
		logger.String("object", objectName),
		logger.Int64("ad", ad.ID))
	return nil
}
