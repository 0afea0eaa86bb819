// Package metadata injects gateway links into NFT metadata records once
// the matching media archive has been uploaded.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrRewrite = errors.New("metadata rewrite error")

// Extension probe order against the sibling images folder; first match
// wins and .png is the deliberate fallback when nothing matches.
var mediaExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".mp4"}

// Rewriter patches every *.json record in a metadata folder with a link
// to the addressed media content. The record is re-persisted under its
// base name and the suffixed original deleted, so a second pass over the
// same folder finds nothing to rewrite.
type Rewriter struct {
	// SkipBad continues the batch past a malformed record instead of
	// aborting it (the original behavior).
	SkipBad bool
}

func NewRewriter(skipBad bool) *Rewriter {
	return &Rewriter{SkipBad: skipBad}
}

// Rewrite links each record to ipfs://{rootCID}/{base}{ext}. The ext is
// probed against the sibling images folder; .mp4 selects the video field,
// anything else the image field. onFile, if set, is called once per record
// with a nil error on success. Returns the number of records rewritten.
func (r *Rewriter) Rewrite(folder, rootCID string, onFile func(name string, err error)) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrRewrite, folder, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	imagesDir := filepath.Join(filepath.Dir(folder), "images")

	rewritten := 0
	for _, name := range names {
		if err := r.rewriteOne(folder, imagesDir, name, rootCID); err != nil {
			if onFile != nil {
				onFile(name, err)
			}
			if r.SkipBad {
				continue
			}
			return rewritten, err
		}
		rewritten++
		if onFile != nil {
			onFile(name, nil)
		}
	}
	return rewritten, nil
}

func (r *Rewriter) rewriteOne(folder, imagesDir, name, rootCID string) error {
	path := filepath.Join(folder, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrRewrite, name, err)
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrRewrite, name, err)
	}

	base := strings.TrimSuffix(name, ".json")
	ext := probeExtension(imagesDir, base)
	link := fmt.Sprintf("ipfs://%s/%s%s", rootCID, base, ext)
	if ext == ".mp4" {
		record["video"] = link
	} else {
		record["image"] = link
	}

	updated, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrRewrite, name, err)
	}

	// Persist under the base name, then drop the suffixed original. This
	// transformation is one-way: the source record no longer exists after.
	if err := os.WriteFile(filepath.Join(folder, base), updated, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrRewrite, base, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrRewrite, name, err)
	}
	return nil
}

func probeExtension(imagesDir, base string) string {
	for _, ext := range mediaExtensions {
		if _, err := os.Stat(filepath.Join(imagesDir, base+ext)); err == nil {
			return ext
		}
	}
	return ".png"
}
