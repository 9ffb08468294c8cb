package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	dayLayout   = "2006-01-02"
	summaryFile = "summary.json"
)

// DaySummary holds the totals of every archived window of one UTC day.
type DaySummary struct {
	Day          string   `json:"day"`
	Windows      int      `json:"windows"`
	TotalFlows   int64    `json:"total_flows"`
	AttackFlows  int64    `json:"attack_flows"`
	UnknownFlows int64    `json:"unknown_flows"`
	WindowIDs    []string `json:"window_ids"`
	Timestamp    string   `json:"timestamp"`
}

// JSONWriter archives each window as <root>/<day>/<id>.json and keeps a
// per-day summary.json next to them.
type JSONWriter struct {
	rootPath string
	logger   *zap.Logger
}

// NewJSONWriter creates a JSON file sink rooted at def.RootPath.
func NewJSONWriter(def config.ArchiveSinkDef, logger *zap.Logger) (model.Writer, error) {
	if def.RootPath == "" {
		return nil, errors.New("json archive requires root_path")
	}
	if err := os.MkdirAll(def.RootPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create archive root")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONWriter{rootPath: def.RootPath, logger: logger}, nil
}

// Name implements model.Writer.
func (w *JSONWriter) Name() string { return "json:" + w.rootPath }

// Write stores the window, replacing an earlier copy with the same id.
func (w *JSONWriter) Write(_ context.Context, window *model.Window) error {
	day := window.StartTime.UTC().Format(dayLayout)
	dayDir := filepath.Join(w.rootPath, day)
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create archive directory")
	}

	if err := writeJSONFile(filepath.Join(dayDir, window.ID+".json"), window); err != nil {
		return err
	}

	summary, err := summarizeDay(dayDir, day)
	if err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(dayDir, summaryFile), summary); err != nil {
		return err
	}
	w.logger.Debug("Window archived", zap.String("window_id", window.ID), zap.String("dir", dayDir))
	return nil
}

// writeJSONFile replaces path atomically.
func writeJSONFile(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "failed to create archive file '%s'", tmp)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to encode '%s'", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to close '%s'", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "failed to move '%s' into place", path)
}

func summarizeDay(dayDir, day string) (*DaySummary, error) {
	entries, err := os.ReadDir(dayDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archive directory")
	}

	summary := &DaySummary{Day: day, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == summaryFile || !strings.HasPrefix(name, model.WindowIDPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		w, err := readWindow(filepath.Join(dayDir, name))
		if err != nil {
			return nil, err
		}
		summary.Windows++
		summary.TotalFlows += w.TotalFlows
		summary.AttackFlows += w.AttackFlows
		summary.UnknownFlows += w.UnknownFlows
		summary.WindowIDs = append(summary.WindowIDs, w.ID)
	}
	return summary, nil
}

func readWindow(path string) (*model.Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read '%s'", path)
	}
	var w model.Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrapf(err, "failed to decode '%s'", path)
	}
	return &w, nil
}

// Load reads an archived window back from a JSON archive root.
func Load(rootPath, id string) (*model.Window, error) {
	start, err := model.ParseWindowID(id)
	if err != nil {
		return nil, err
	}
	return readWindow(filepath.Join(rootPath, start.Format(dayLayout), id+".json"))
}
