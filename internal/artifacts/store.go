// Package artifacts writes extracted items to compressed JSON Lines artifacts.
//
// Items are first written as parts keyed by the page they came from, so that a
// re-fetched page replaces its previous part instead of duplicating it. When a
// phase completes, Compact turns the parts into artifacts of at most batchSize
// items and records them in the run manifest.
package artifacts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	manifestFileName = "manifest.json"
	partsDirName     = "parts"
	partIndexName    = "index.json"
	compactingPrefix = "compacting-"
	artifactExt      = ".jsonl.zst"
)

// Item types written by the extractor
const (
	ItemTypeUsers                  = "users"
	ItemTypeLabels                 = "labels"
	ItemTypeCards                  = "cards"
	ItemTypeComments               = "comments"
	ItemTypeAttachments            = "attachments"
	ItemTypeExternalDomainMetadata = "external_domain_metadata"
)

// Artifact is one manifest entry
type Artifact struct {
	ID        string `json:"id"`
	ItemType  string `json:"item_type"`
	ItemCount int    `json:"item_count"`
}

// Count sums the item counts of the given item type
func Count(manifest []Artifact, itemType string) int {
	total := 0
	for _, a := range manifest {
		if a.ItemType == itemType {
			total += a.ItemCount
		}
	}
	return total
}

type manifestFile struct {
	Artifacts   []Artifact `json:"artifacts"`
	Compactions []string   `json:"compactions,omitempty"`
}

// Store roots the artifact directories of all runs
type Store struct {
	basePath  string
	batchSize int
}

// NewStore creates a Store under basePath. Artifacts hold at most batchSize items.
func NewStore(basePath string, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 2000
	}
	return &Store{basePath: basePath, batchSize: batchSize}
}

// Run returns the artifact directory of one run
func (s *Store) Run(runKey, runID string) (*Run, error) {
	key := url.PathEscape(runKey)
	id := url.PathEscape(runID)
	for _, part := range []string{key, id} {
		if part == "" || part == "." || part == ".." {
			return nil, fmt.Errorf("invalid artifact run path %q/%q", runKey, runID)
		}
	}
	return &Run{
		dir:       filepath.Join(s.basePath, key, id),
		batchSize: s.batchSize,
	}, nil
}

// Run is the artifact directory of one sync run
type Run struct {
	dir       string
	batchSize int
}

// Dir returns the directory of the run
func (r *Run) Dir() string {
	return r.dir
}

// WritePart durably stores items of itemType under partKey, replacing any part
// previously written with the same key.
func (r *Run) WritePart(_ context.Context, itemType, partKey string, items []any) error {
	if partKey == "" {
		return fmt.Errorf("part key is required")
	}

	dir := filepath.Join(r.dir, partsDirName, itemType)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create parts directory for %s: %w", itemType, err)
	}

	path := filepath.Join(dir, url.PathEscape(partKey)+artifactExt)
	if err := writeItems(path, items); err != nil {
		return fmt.Errorf("failed to write %s part: %w", itemType, err)
	}

	index, err := readIndex(dir)
	if err != nil {
		return err
	}
	if slices.Contains(index, partKey) {
		return nil
	}
	return writeJSONAtomic(filepath.Join(dir, partIndexName), append(index, partKey))
}

// Compact moves all parts into manifest artifacts and returns the full manifest.
// An interrupted compaction is resumed, and never produces its artifacts twice.
func (r *Run) Compact(ctx context.Context) ([]Artifact, error) {
	m, err := r.readManifest()
	if err != nil {
		return nil, err
	}

	pending, err := r.pendingCompactions()
	if err != nil {
		return nil, err
	}

	partsDir := filepath.Join(r.dir, partsDirName)
	if _, err := os.Stat(partsDir); err == nil {
		// v7 ids sort by creation time, keeping generations in order
		generation := uuid.Must(uuid.NewV7()).String()
		if err := os.Rename(partsDir, filepath.Join(r.dir, compactingPrefix+generation)); err != nil {
			return nil, fmt.Errorf("failed to stage parts for compaction: %w", err)
		}
		pending = append(pending, generation)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat parts: %w", err)
	}

	for _, generation := range pending {
		if err := r.compactGeneration(ctx, m, generation); err != nil {
			return nil, err
		}
	}
	return m.Artifacts, nil
}

// Manifest returns the artifacts recorded so far
func (r *Run) Manifest() ([]Artifact, error) {
	m, err := r.readManifest()
	if err != nil {
		return nil, err
	}
	return m.Artifacts, nil
}

func (r *Run) readManifest() (*manifestFile, error) {
	// #nosec G304 -- path is inside the run directory
	data, err := os.ReadFile(filepath.Join(r.dir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &manifestFile{Artifacts: []Artifact{}}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Artifacts == nil {
		m.Artifacts = []Artifact{}
	}
	return &m, nil
}

func (r *Run) pendingCompactions() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list run directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), compactingPrefix) {
			out = append(out, strings.TrimPrefix(e.Name(), compactingPrefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Run) compactGeneration(ctx context.Context, m *manifestFile, generation string) error {
	dir := filepath.Join(r.dir, compactingPrefix+generation)

	if !slices.Contains(m.Compactions, generation) {
		itemTypes, err := subdirs(dir)
		if err != nil {
			return err
		}
		var produced []Artifact
		for _, itemType := range itemTypes {
			artifacts, err := r.compactItemType(ctx, filepath.Join(dir, itemType), itemType)
			if err != nil {
				return err
			}
			produced = append(produced, artifacts...)
		}

		next := manifestFile{
			Artifacts:   append(slices.Clone(m.Artifacts), produced...),
			Compactions: append(slices.Clone(m.Compactions), generation),
		}
		if err := writeJSONAtomic(filepath.Join(r.dir, manifestFileName), next); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
		*m = next
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove compacted parts: %w", err)
	}
	return nil
}

// ReadItems calls fn for every item of itemType in manifest order
func (r *Run) ReadItems(ctx context.Context, itemType string, fn func(json.RawMessage) error) error {
	manifest, err := r.Manifest()
	if err != nil {
		return err
	}
	for _, a := range manifest {
		if a.ItemType != itemType {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := readItems(filepath.Join(r.dir, a.ID+artifactExt), fn); err != nil {
			return fmt.Errorf("failed to read artifact %s: %w", a.ID, err)
		}
	}
	return nil
}

// WriteArtifact writes items directly as manifest artifacts, bypassing parts
func (r *Run) WriteArtifact(ctx context.Context, itemType string, items []any) ([]Artifact, error) {
	if err := r.WritePart(ctx, itemType, itemType, items); err != nil {
		return nil, err
	}
	manifest, err := r.Compact(ctx)
	if err != nil {
		return nil, err
	}
	var out []Artifact
	for _, a := range manifest {
		if a.ItemType == itemType {
			out = append(out, a)
		}
	}
	return out, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Run) compactItemType(ctx context.Context, dir, itemType string) ([]Artifact, error) {
	index, err := readIndex(dir)
	if err != nil {
		return nil, err
	}

	var (
		produced []Artifact
		batch    []any
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		id := itemType + "-" + uuid.NewString()
		if err := writeItems(filepath.Join(r.dir, id+artifactExt), batch); err != nil {
			return fmt.Errorf("failed to write %s artifact: %w", itemType, err)
		}
		produced = append(produced, Artifact{ID: id, ItemType: itemType, ItemCount: len(batch)})
		batch = nil
		return nil
	}

	for _, key := range index {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, url.PathEscape(key)+artifactExt)
		err := readItems(path, func(raw json.RawMessage) error {
			batch = append(batch, raw)
			if len(batch) >= r.batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return produced, nil
}

func readIndex(dir string) ([]string, error) {
	// #nosec G304 -- path is inside the run directory
	data, err := os.ReadFile(filepath.Join(dir, partIndexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read part index: %w", err)
	}
	var index []string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse part index: %w", err)
	}
	return index, nil
}

// writeItems writes a zstd-compressed JSON Lines file through a temporary file
func writeItems(path string, items []any) (err error) {
	tempPath := path + ".tmp"
	// #nosec G304 -- path is inside the run directory
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tempPath)
		}
	}()

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	jsonEnc := json.NewEncoder(enc)
	for _, item := range items {
		if err = jsonEnc.Encode(item); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if err = file.Sync(); err != nil {
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func readItems(path string, fn func(json.RawMessage) error) error {
	// #nosec G304 -- path is inside the run directory
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return err
	}
	defer dec.Close()

	reader := bufio.NewReader(dec)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := line
			if trimmed[len(trimmed)-1] == '\n' {
				trimmed = trimmed[:len(trimmed)-1]
			}
			if len(trimmed) > 0 {
				if cbErr := fn(json.RawMessage(append([]byte(nil), trimmed...))); cbErr != nil {
					return cbErr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}
