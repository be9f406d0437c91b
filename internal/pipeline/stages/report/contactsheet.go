package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Contact sheet layout: up to columns*rows evenly spaced frames, each
// downscaled to a fixed-width tile.
const (
	sheetColumns   = 4
	sheetRows      = 3
	sheetTileWidth = 320
)

// buildContactSheet composes sampled frames from framesDir into one JPEG
// grid. Frames that fail to decode are skipped; it errors only when the
// directory is unreadable or nothing decodes.
func buildContactSheet(framesDir string) ([]byte, error) {
	paths, err := listFrameFiles(framesDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames in %s", framesDir)
	}

	images := make([]image.Image, 0, sheetColumns*sheetRows)
	for _, path := range selectEvenly(paths, sheetColumns*sheetRows) {
		img, err := decodeJPEG(path)
		if err != nil {
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, errors.New("no decodable frames for contact sheet")
	}

	first := images[0].Bounds()
	tileHeight := sheetTileWidth * first.Dy() / first.Dx()
	if tileHeight <= 0 {
		tileHeight = sheetTileWidth * 9 / 16
	}

	rows := (len(images) + sheetColumns - 1) / sheetColumns
	canvas := image.NewRGBA(image.Rect(0, 0, sheetColumns*sheetTileWidth, rows*tileHeight))

	for i, img := range images {
		col := i % sheetColumns
		row := i / sheetColumns
		tile := image.Rect(
			col*sheetTileWidth, row*tileHeight,
			(col+1)*sheetTileWidth, (row+1)*tileHeight,
		)
		xdraw.CatmullRom.Scale(canvas, tile, img, img.Bounds(), xdraw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encoding contact sheet: %w", err)
	}
	return buf.Bytes(), nil
}

// listFrameFiles returns the JPEG files in dir sorted by name. Frame files
// are zero-padded, so lexicographic order is frame order.
func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frames directory: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// selectEvenly picks up to max paths spread evenly across the slice,
// always including the first and last.
func selectEvenly(paths []string, max int) []string {
	if len(paths) <= max {
		return paths
	}
	out := make([]string, max)
	for i := range out {
		out[i] = paths[i*(len(paths)-1)/(max-1)]
	}
	return out
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
