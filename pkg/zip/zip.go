package zip

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// JSONAsset marshals v into an indented JSON entry.
func JSONAsset(filename string, v any) (Asset, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Asset{}, fmt.Errorf("zip: encode %s: %w", filename, err)
	}
	return Asset{Filename: filename, MIME: "application/json", Data: data}, nil
}

// ArchiveAssets packs assets into a zip archive in the order given. PNG
// entries are stored, everything else is deflated.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	now := time.Now()
	for _, asset := range assets {
		method := zip.Deflate
		if asset.MIME == "image/png" {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: asset.Filename, Method: method, Modified: now})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
