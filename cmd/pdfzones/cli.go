package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/OCAP2/pdfzones/internal/config"
	"github.com/OCAP2/pdfzones/internal/document"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// runBake bakes a marker file onto a local PDF without a host:
//
//	pdfzones bake --document in.pdf --markers markers.json --out out.pdf
func runBake(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("bake", pflag.ContinueOnError)
	configDir := flags.String("config-dir", ".", "directory containing "+config.FileName)
	docPath := flags.String("document", "", "source PDF; a blank A4 page when empty")
	markersPath := flags.String("markers", "", "JSON array of markers")
	outPath := flags.String("out", "", "where to write the baked PDF")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *markersPath == "" || *outPath == "" {
		return errors.New("bake: --markers and --out are required")
	}

	// A missing config file only means defaults.
	_ = config.Load(*configDir)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	source, err := readSource(*docPath)
	if err != nil {
		return err
	}
	markers, err := readMarkers(*markersPath)
	if err != nil {
		return err
	}

	engine, _, err := newEngine(logger)
	if err != nil {
		return err
	}
	res, err := engine.Bake(context.Background(), source, markers)
	if err != nil {
		return err
	}

	path, err := document.Save(filepath.Dir(*outPath), filepath.Base(*outPath), res.Data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote %s (%s, %d pages) in %s\n", path, humanize.Bytes(uint64(len(res.Data))), res.Pages, res.Duration)
	fmt.Fprintf(out, "Drew %d markers\n", res.Drawn)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "Skipped %s: %s\n", s.MarkerID, s.Reason)
	}
	return nil
}

func readSource(path string) ([]byte, error) {
	if path == "" {
		return document.Blank()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return data, nil
}

func readMarkers(path string) ([]core.Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markers: %w", err)
	}
	var markers []core.Marker
	if err := json.Unmarshal(data, &markers); err != nil {
		return nil, fmt.Errorf("decoding markers: %w", err)
	}
	return markers, nil
}
