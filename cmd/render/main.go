package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/app"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/batch"
	"rbx-avatar-renderer/internal/config"
	"rbx-avatar-renderer/internal/pipeline"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/roblox"
)

const (
	formatGLB = "glb"
	formatZip = "zip"
)

func main() {
	// CLI flags
	configFile := flag.String("config", "", "Path to config file (YAML or JSON)")
	userID := flag.String("user", "", "Roblox user id (current avatar)")
	username := flag.String("username", "", "Roblox username (current avatar, or outfit owner with -bulk)")
	outfitID := flag.String("outfit", "", "Outfit id")
	outfitName := flag.String("name", "", "Display name used in output file names")
	outfits := flag.String("outfits", "", "Comma separated outfit ids for -bulk (id or id:name); default: every outfit of the user")
	bundlePath := flag.String("bundle", "", "Render a previously downloaded bundle zip")
	pose := flag.String("pose", "", "Pose name (Default, Wave, Hero, Relaxed, Sitting or a custom pose)")
	format := flag.String("format", "", "Output format: webp, png, glb or zip (default: webp)")
	size := flag.Int("size", 0, "Output size in pixels (default: 1024)")
	supersample := flag.Int("supersample", 0, "Supersample factor (default: 2)")
	outputDir := flag.String("output", "", "Output directory (default: renders)")
	workers := flag.Int("workers", 0, "Concurrent outfits in -bulk (default: 3 for zip, 1 for renders)")
	bulk := flag.Bool("bulk", false, "Export several outfits into one archive")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")

	flag.Parse()

	// Load config
	var cfg config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI flags override config file
	cfg.Resolve(config.Flags{
		OutputDir:   *outputDir,
		Format:      *format,
		Pose:        *pose,
		Size:        *size,
		Supersample: *supersample,
		Workers:     *workers,
		LogLevel:    *logLevel,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	svc, err := app.New(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	target := strings.ToLower(cfg.Render.Format)
	start := time.Now()

	if *bulk {
		ok := runBulk(ctx, svc, target, *userID, *username, *outfits)
		fmt.Printf("Done in %.1fs\n", time.Since(start).Seconds())
		if !ok {
			os.Exit(1)
		}
		return
	}

	b, err := loadBundle(ctx, svc, *bundlePath, *outfitID, *outfitName, *userID, *username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	path, err := export(ctx, svc, b, target, cfg.OutputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s in %.1fs\n", path, time.Since(start).Seconds())
}

func loadBundle(ctx context.Context, svc *app.Services, bundlePath, outfitID, outfitName, userID, username string) (*asset.Bundle, error) {
	switch {
	case bundlePath != "":
		data, err := os.ReadFile(bundlePath)
		if err != nil {
			return nil, err
		}
		return asset.ReadArchive(data)
	case outfitID != "":
		id, err := roblox.ParseID(outfitID, "outfitId")
		if err != nil {
			return nil, err
		}
		fmt.Printf("Fetching outfit %d\n", id)
		return svc.Pipeline.OutfitBundle(ctx, id, outfitName)
	case userID != "" || username != "":
		id, err := resolveUser(ctx, svc, userID, username)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Fetching avatar of user %d\n", id)
		return svc.Pipeline.PlayerBundle(ctx, id, username)
	}
	return nil, fmt.Errorf("one of -bundle, -outfit, -user or -username is required")
}

func resolveUser(ctx context.Context, svc *app.Services, userID, username string) (int64, error) {
	if userID != "" {
		return roblox.ParseID(userID, "userId")
	}
	return svc.Resolver.UsernameToID(ctx, username)
}

func export(ctx context.Context, svc *app.Services, b *asset.Bundle, target, dir string) (string, error) {
	var (
		data []byte
		name string
		err  error
	)
	switch target {
	case formatZip:
		data, err = b.Archive()
		name = b.ArchiveName()
	case formatGLB:
		data, err = pipeline.ExportGLB(ctx, b, svc.RenderOptions(render.FormatPNG))
		name = b.BaseName + ".glb"
	default:
		f, ferr := render.ParseFormat(target)
		if ferr != nil {
			return "", ferr
		}
		data, err = pipeline.RenderBundle(ctx, b, svc.RenderOptions(f))
		name = b.BaseName + f.Ext()
	}
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func runBulk(ctx context.Context, svc *app.Services, target, userID, username, list string) bool {
	tasks, err := bulkTasks(ctx, svc, userID, username, list)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if len(tasks) == 0 {
		fmt.Println("No outfits to export.")
		return true
	}

	cfg := batch.Config{Mode: batch.ModeBundle, Workers: svc.Config.Batch.DownloadWorkers, Source: svc.Pipeline, Logger: svc.Logger}
	if target != formatZip {
		f, err := render.ParseFormat(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -bulk renders images or zips: %v\n", err)
			return false
		}
		cfg.Mode = batch.ModeRender
		cfg.Workers = svc.Config.Batch.RenderWorkers
		cfg.Render = svc.RenderOptions(f)
	}

	fmt.Printf("Roblox outfit export (%s)\n", cfg.Mode)
	fmt.Printf("Outfits: %d, Workers: %d\n", len(tasks), cfg.Workers)
	fmt.Printf("Output: %s\n", svc.Config.OutputDir)
	fmt.Println("------------------------------------------------------------")

	out, err := batch.Run(ctx, cfg, tasks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Exported: %d/%d\n", out.Succeeded(), len(tasks))

	var failures []batch.Result
	for _, r := range out.Results {
		if !r.Success {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		fmt.Printf("\nFailed (%d):\n", len(failures))
		limit := min(20, len(failures))
		for _, r := range failures[:limit] {
			fmt.Printf("  %d %s: %s\n", r.ID, r.Name, r.Error)
		}
	}

	archivePath := filepath.Join(svc.Config.OutputDir, out.Name)
	f, err := os.Create(archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if err := out.WriteArchive(f); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	fmt.Printf("Archive: %s\n", archivePath)

	manifestPath := filepath.Join(svc.Config.OutputDir, batch.ManifestName)
	if err := batch.WriteManifest(manifestPath, cfg.Mode, out); err != nil {
		svc.Logger.Warn("manifest write failed", zap.Error(err))
	} else {
		fmt.Printf("Manifest: %s\n", manifestPath)
	}
	return len(failures) == 0
}

// bulkTasks parses "id[:name],..." or lists every outfit of the user.
func bulkTasks(ctx context.Context, svc *app.Services, userID, username, list string) ([]batch.Task, error) {
	if strings.TrimSpace(list) != "" {
		var tasks []batch.Task
		for _, item := range strings.Split(list, ",") {
			idPart, name, _ := strings.Cut(strings.TrimSpace(item), ":")
			if idPart == "" {
				continue
			}
			id, err := strconv.ParseInt(idPart, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid outfit id %q", idPart)
			}
			tasks = append(tasks, batch.Task{ID: id, Name: name})
		}
		return tasks, nil
	}
	if userID == "" && username == "" {
		return nil, fmt.Errorf("-bulk needs -outfits or a -user/-username whose outfits to export")
	}
	id, err := resolveUser(ctx, svc, userID, username)
	if err != nil {
		return nil, err
	}
	listing, err := svc.Resolver.Outfits(ctx, id)
	if err != nil {
		return nil, err
	}
	fmt.Printf("User %d has %d outfits (fetched %d)\n", id, listing.Total, listing.Fetched)
	tasks := make([]batch.Task, 0, len(listing.Outfits))
	for _, o := range listing.Outfits {
		tasks = append(tasks, batch.Task{ID: o.ID, Name: o.Name})
	}
	return tasks, nil
}
