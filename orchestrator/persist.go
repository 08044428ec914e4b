package orchestrator

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/convai-tools/latency-pipeline/report"
)

const (
	rawFile     = "latency_raw.json"
	summaryFile = "latency_summary.md"
)

func mkRunDir(outputsRoot string, now time.Time) (string, error) {
	dir := filepath.Join(outputsRoot, "run_"+now.Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create run dir %s", dir)
	}
	return dir, nil
}

// persist writes the raw bundle and its Markdown summary into a fresh run
// directory under outputsRoot.
func persist(outputsRoot string, b *report.Bundle) (*Result, error) {
	dir, err := mkRunDir(outputsRoot, b.GeneratedAt)
	if err != nil {
		return nil, err
	}

	rawPath := filepath.Join(dir, rawFile)
	if err := report.WriteJSON(rawPath, b); err != nil {
		return nil, err
	}

	md, err := report.Markdown(b)
	if err != nil {
		return nil, err
	}
	sumPath := filepath.Join(dir, summaryFile)
	if err := os.WriteFile(sumPath, []byte(md), 0o644); err != nil {
		return nil, errors.Wrapf(err, "write %s", sumPath)
	}

	return &Result{RunDir: dir, RawPath: rawPath, SummaryPath: sumPath, Bundle: b}, nil
}
