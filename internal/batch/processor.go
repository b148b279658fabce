// Package batch exports many outfits at once into a single archive. Items
// run with a small concurrency cap; an item that fails becomes a failure
// marker entry and never aborts its siblings.
package batch

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/pipeline"
	"rbx-avatar-renderer/internal/render"
)

// Mode selects what each item contributes to the archive.
type Mode string

const (
	// ModeBundle stores each outfit's asset zip.
	ModeBundle Mode = "bundle"
	// ModeRender stores a posed headless render of each outfit.
	ModeRender Mode = "render"
)

// Default concurrency per mode.
const (
	BundleWorkers = 3
	RenderWorkers = 1
)

// RenderNameLen caps the sanitized name in render entry names.
const RenderNameLen = 50

// Source downloads outfit bundles. *pipeline.Pipeline satisfies it.
type Source interface {
	OutfitBundle(ctx context.Context, outfitID int64, name string) (*asset.Bundle, error)
}

// Task is one selected outfit.
type Task struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Config holds all shared resources for a batch run.
type Config struct {
	Mode    Mode
	Workers int
	Source  Source
	Render  pipeline.RenderOptions
	Logger  *zap.Logger
	// Progress is the interval between progress lines; zero means 2s.
	Progress time.Duration
	Now      func() time.Time
}

// Result holds the outcome of processing one item.
type Result struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Entry   string `json:"entry"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Output is a finished batch.
type Output struct {
	Name    string
	Results []Result
	Entries []asset.Entry
}

// Succeeded counts successful items.
func (o *Output) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// WriteArchive writes every entry as a zip archive.
func (o *Output) WriteArchive(w io.Writer) error {
	return asset.WriteZip(w, o.Entries)
}

// Run processes all tasks and assembles the archive entries in task order,
// followed by manifest.json. It fails only when ctx is cancelled.
func Run(ctx context.Context, cfg Config, tasks []Task) (*Output, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeBundle
	}
	if cfg.Workers <= 0 {
		cfg.Workers = BundleWorkers
		if cfg.Mode == ModeRender {
			cfg.Workers = RenderWorkers
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Progress <= 0 {
		cfg.Progress = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Mode == ModeRender && cfg.Render.Format == "" {
		cfg.Render.Format = render.FormatPNG
	}
	logger := cfg.Logger.With(zap.String("component", "batch"), zap.String("mode", string(cfg.Mode)))

	total := len(tasks)
	results := make([]Result, total)
	payloads := make([][]byte, total)
	var processed atomic.Int64

	start := time.Now()

	// Progress reporter
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Progress)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := processed.Load()
				if p > 0 {
					elapsed := time.Since(start).Seconds()
					logger.Info("batch progress",
						zap.Int64("done", p),
						zap.Int("total", total),
						zap.Float64("items_per_sec", float64(p)/elapsed))
				}
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], payloads[i] = processItem(gctx, cfg, tasks[i])
			if !results[i].Success {
				logger.Warn("item failed", zap.Int64("outfit_id", tasks[i].ID), zap.String("error", results[i].Error))
			}
			processed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	close(done)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Name:    ArchiveName(cfg.Now()),
		Results: results,
	}
	for i, r := range results {
		out.Entries = append(out.Entries, asset.Entry{Name: r.Entry, Data: payloads[i]})
	}
	manifest, err := BuildManifest(cfg.Mode, out.Name, results)
	if err != nil {
		return nil, err
	}
	out.Entries = append(out.Entries, asset.Entry{Name: ManifestName, Data: manifest})

	logger.Info("batch finished",
		zap.Int("total", total),
		zap.Int("succeeded", out.Succeeded()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func processItem(ctx context.Context, cfg Config, task Task) (Result, []byte) {
	res := Result{ID: task.ID, Name: task.Name}

	data, entry, err := produce(ctx, cfg, task)
	if err != nil {
		res.Entry = FailureName(task.ID)
		res.Error = err.Error()
		return res, []byte("Error: " + err.Error())
	}
	res.Entry = entry
	res.Success = true
	return res, data
}

func produce(ctx context.Context, cfg Config, task Task) ([]byte, string, error) {
	b, err := cfg.Source.OutfitBundle(ctx, task.ID, task.Name)
	if err != nil {
		return nil, "", err
	}
	if cfg.Mode == ModeBundle {
		data, err := b.Archive()
		if err != nil {
			return nil, "", err
		}
		return data, b.ArchiveName(), nil
	}

	data, err := pipeline.RenderBundle(ctx, b, cfg.Render)
	if err != nil {
		return nil, "", err
	}
	return data, RenderName(task.ID, task.Name, cfg.Render.Format), nil
}

// RenderName is "Render_{id}_{name}{ext}" with the name sanitized to 50 characters.
func RenderName(id int64, name string, f render.Format) string {
	return fmt.Sprintf("Render_%d_%s%s", id, asset.SanitizeName(name, "Outfit", RenderNameLen), f.Ext())
}

// FailureName is the marker entry of a failed item.
func FailureName(id int64) string {
	return fmt.Sprintf("FAILED_%d.txt", id)
}

// ArchiveName is "Outfits_Bundle_{unix millis}.zip".
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("Outfits_Bundle_%d.zip", t.UnixMilli())
}
