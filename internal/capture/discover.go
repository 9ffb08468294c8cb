// Package capture finds capture segments and feature files on disk.
package capture

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
)

const (
	SegmentExt = ".pcap"
	FeatureExt = ".csv"
)

// Segment is a raw capture file awaiting feature extraction.
type Segment struct {
	ID      string
	Path    string
	Start   time.Time
	ModTime time.Time
	Size    int64
}

// FeatureFile is a complete feature file ready for aggregation.
type FeatureFile struct {
	ID      string
	Path    string
	Start   time.Time
	ModTime time.Time
}

// FeaturePath returns where the feature file for id lives.
func FeaturePath(csvDir, id string) string {
	return filepath.Join(csvDir, id+FeatureExt)
}

// SegmentPath returns where the segment for id lives.
func SegmentPath(pcapDir, id string) string {
	return filepath.Join(pcapDir, id+SegmentExt)
}

// DiscoverSegments lists segments in pcapDir that have no feature file in
// csvDir yet and were last modified at least minAge before now. Files whose
// names do not carry a valid window identifier are ignored. The result is
// ordered by window start.
func DiscoverSegments(pcapDir, csvDir string, minAge time.Duration, now time.Time) ([]Segment, error) {
	entries, err := os.ReadDir(pcapDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan segment directory %s", pcapDir)
	}

	var out []Segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, model.WindowIDPrefix) || filepath.Ext(name) != SegmentExt {
			continue
		}
		id := strings.TrimSuffix(name, SegmentExt)
		start, err := model.ParseWindowID(id)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < minAge {
			continue
		}
		if _, err := os.Stat(FeaturePath(csvDir, id)); err == nil {
			continue
		}
		out = append(out, Segment{
			ID:      id,
			Path:    filepath.Join(pcapDir, name),
			Start:   start,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	slices.SortFunc(out, func(a, b Segment) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// DiscoverFeatureFiles lists the complete feature files in csvDir, ordered
// by window start. Partial outputs and foreign files are ignored.
func DiscoverFeatureFiles(csvDir string) ([]FeatureFile, error) {
	entries, err := os.ReadDir(csvDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan feature directory %s", csvDir)
	}

	var out []FeatureFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != FeatureExt {
			continue
		}
		id := strings.TrimSuffix(name, FeatureExt)
		start, err := model.ParseWindowID(id)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, FeatureFile{
			ID:      id,
			Path:    filepath.Join(csvDir, name),
			Start:   start,
			ModTime: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b FeatureFile) int { return a.Start.Compare(b.Start) })
	return out, nil
}
