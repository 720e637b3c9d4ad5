package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voxview/internal/models"
	"voxview/pkg/config"
	"voxview/pkg/decoder"
	"voxview/pkg/listing"
	"voxview/pkg/metrics"
	"voxview/pkg/provider"
	"voxview/pkg/server"
	"voxview/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "voxview.yaml", "Path to the YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	input := flag.String("input", "", "Volume file or DICOM directory to open")
	sizeFlag := flag.String("size", "", "Size hint X,Y,Z for headerless raw and CTI files")
	orientationFlag := flag.String("orientation", "", "Viewing plane: axial, coronal or sagittal (default from config)")
	colormap := flag.String("colormap", "", "Colormap for exported slices: gray, viridis, blackbody or coolwarm (default from config)")
	sliceIndex := flag.Int("slice", -1, "Slice index to export (default: middle slice)")
	outputPath := flag.String("out", "", "Write the slice to this .png or .jpg file")
	allSlices := flag.String("all", "", "Write every slice along the orientation into this directory")
	listRoot := flag.String("list", "", "List loadable volumes below this directory")
	serve := flag.Bool("serve", false, "Serve volumes over HTTP")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *colormap != "" {
		cfg.Display.Colormap = *colormap
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid -colormap: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := decoder.Default(cfg.DecoderOptions(logger), decoder.WithObserver(m))
	p := provider.New(registry, provider.WithLogger(logger), provider.WithMetrics(m))

	switch {
	case *serve:
		runServer(cfg, p, reg, logger)
	case *listRoot != "":
		files, err := listing.Scan(*listRoot, p.ValidExtensions(), cfg.ListingOptions(logger))
		if err != nil {
			log.Fatalf("Listing failed: %v", err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
	case *input != "":
		var hint *models.Size
		if *sizeFlag != "" {
			size, err := models.ParseSize(*sizeFlag)
			if err != nil {
				log.Fatalf("Invalid -size: %v", err)
			}
			hint = &size
		}
		name := *orientationFlag
		if name == "" {
			name = cfg.Display.Orientation
		}
		o, err := models.ParseOrientation(name)
		if err != nil {
			log.Fatalf("Invalid -orientation: %v", err)
		}
		if err := inspect(cfg, p, *input, hint, o, *sliceIndex, *outputPath, *allSlices); err != nil {
			reportLoadError(err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

// inspect prints what the provider knows about path and optionally exports
// one slice or every slice along o.
func inspect(cfg *config.Config, p *provider.Provider, path string, hint *models.Size, o models.Orientation, index int, out, allDir string) error {
	startTime := time.Now()
	if _, err := p.Load(path, hint); err != nil {
		return err
	}
	size, _ := p.Size()

	fmt.Println("================================")
	fmt.Printf("Volume: %s\n", path)
	fmt.Printf("Decoder: %s (%.2f seconds)\n", p.Decoder(), time.Since(startTime).Seconds())
	fmt.Printf("Size (x,y,z): %s\n", size)
	for _, plane := range []models.Orientation{models.Axial, models.Coronal, models.Sagittal} {
		fmt.Printf("- %-8s %4d slices", plane, p.SliceCount(path, plane, hint))
		if ratio, ok := p.AspectRatio(plane); ok {
			fmt.Printf(", aspect %.3f", ratio)
		}
		fmt.Println()
	}
	fmt.Println("================================")

	opts := cfg.RenderOptions(o)
	if ratio, ok := p.AspectRatio(o); ok && cfg.Display.ApplyAspect {
		opts.AspectRatio = ratio
	}
	viewer := visualization.NewViewer(opts)

	if allDir != "" {
		n, err := viewer.SaveSliceSequence(p, path, o, hint, allDir)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d %s slices to: %s\n", n, o, allDir)
	}
	if out == "" {
		return nil
	}

	if index < 0 {
		index = p.SliceCount(path, o, hint) / 2
	}
	slice, err := p.ImageSlice(path, index, o, hint)
	if err != nil {
		return err
	}
	stats := models.ComputeSliceStats(slice)
	fmt.Printf("Slice %d (%s): %dx%d, min %.4g, max %.4g, mean %.4g\n",
		index, o, stats.Cols, stats.Rows, stats.Min, stats.Max, stats.Mean)

	img, err := viewer.Render(slice)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	if err := viewer.SaveSlice(img, out); err != nil {
		return err
	}
	fmt.Printf("Slice saved to: %s\n", out)
	return nil
}

// reportLoadError prints the file size and every decoder's reason so the
// user can work out a manual size hint.
func reportLoadError(err error) {
	var nerr *decoder.NoDecoderError
	if !errors.As(err, &nerr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "Could not load volume from %s (%d bytes).\n", nerr.Path, nerr.Bytes)
	fmt.Fprintln(os.Stderr, "Decoders tried:")
	for _, f := range nerr.Failures {
		fmt.Fprintf(os.Stderr, "- %s\n", strings.ReplaceAll(f.Error(), "\n", "\n  "))
	}
	if nerr.Bytes > 0 && nerr.Bytes%4 == 0 {
		fmt.Fprintf(os.Stderr, "Hint: %d float32 samples; pass -size X,Y,Z with that product.\n", nerr.Bytes/4)
	}
}

func runServer(cfg *config.Config, p *provider.Provider, reg *prometheus.Registry, logger *slog.Logger) {
	h := server.New(p, server.Options{
		Root:        cfg.Server.Root,
		Listing:     cfg.ListingOptions(logger),
		Render:      cfg.RenderOptions,
		ApplyAspect: cfg.Display.ApplyAspect,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("serving volumes", "addr", cfg.Server.Addr, "root", cfg.Server.Root)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
