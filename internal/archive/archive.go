// Package archive periodically uploads JSON snapshots of the pricing
// registry to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/samsa/market-engine/internal/lmsr"
)

// Writer stores an object under key.
type Writer interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Snapshotter is satisfied by registry.Registry.
type Snapshotter interface {
	Snapshot() map[string]lmsr.State
}

// Document is the uploaded JSON body.
type Document struct {
	TakenAt time.Time             `json:"taken_at"`
	Markets map[string]lmsr.State `json:"markets"`
}

// Archiver writes registry snapshots to a Writer.
type Archiver struct {
	writer   Writer
	source   Snapshotter
	prefix   string
	interval time.Duration
	now      func() time.Time
}

// New creates an archiver. Keys are <prefix>/lmsr-<timestamp>.json.
func New(writer Writer, source Snapshotter, prefix string, interval time.Duration) *Archiver {
	return &Archiver{
		writer:   writer,
		source:   source,
		prefix:   prefix,
		interval: interval,
		now:      time.Now,
	}
}

// ArchiveOnce uploads one snapshot and returns its key. Empty registries
// are skipped and return an empty key.
func (a *Archiver) ArchiveOnce(ctx context.Context) (string, error) {
	states := a.source.Snapshot()
	if len(states) == 0 {
		return "", nil
	}

	takenAt := a.now().UTC()
	body, err := json.Marshal(Document{TakenAt: takenAt, Markets: states})
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	key := path.Join(a.prefix, "lmsr-"+takenAt.Format("20060102T150405Z")+".json")
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Run archives on every tick until ctx is cancelled, then writes a final
// snapshot. Upload failures are logged and do not stop the loop.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final snapshot on shutdown, with a fresh deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.archive(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.archive(ctx)
		}
	}
}

func (a *Archiver) archive(ctx context.Context) {
	key, err := a.ArchiveOnce(ctx)
	if err != nil {
		slog.Error("snapshot archive failed", "err", err)
		return
	}
	if key != "" {
		slog.Info("snapshot archived", "key", key)
	}
}
