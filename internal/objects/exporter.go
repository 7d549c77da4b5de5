package objects

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/engine"
)

// Ошибки экспорта сегмента.
var (
	// ErrMissingJobName — в результате стадии нет jobName.
	ErrMissingJobName = errors.New("stage output has no jobName")

	// ErrNoSegmentFiles — в выходном префиксе job нет *.json.out.
	ErrNoSegmentFiles = errors.New("no segment data files found in the output location")
)

const (
	segmentFileSuffix = ".json.out"
	maxLineSize       = 16 << 20
)

// SegmentExporter — финализатор batch inference.
//
// Читает выход job ({SegmentPrefix}/output/{jobName}/*.json.out, JSON
// по строке) и пишет один CSV "item_id,user_id" в
// {TargetPrefix}/segment_results_{YYYYMMDDhhmmss}.csv. Существующие
// CSV в целевом префиксе удаляются заранее. Префиксы считаются
// каталогами: "results" и "results/" означают одно и то же.
type SegmentExporter struct {
	Store Store

	// Segment — куда сервис пишет результаты job.
	Segment Location

	// Target — куда пишется CSV.
	Target Location

	// Now — источник времени для имени файла (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// segmentLine — одна строка выхода batch inference.
type segmentLine struct {
	Input struct {
		ItemID string `json:"itemId"`
	} `json:"input"`
	Output struct {
		UsersList []string `json:"usersList"`
	} `json:"output"`
}

// Finalize реализует engine.Finalizer.
func (e *SegmentExporter) Finalize(ctx context.Context, req engine.FinalizeRequest) (map[string]any, error) {
	jobName, _ := req.Output["jobName"].(string)
	if jobName == "" {
		return nil, ErrMissingJobName
	}

	logger := e.logger().With("execution_id", req.ExecutionID, "stage", req.Stage)

	// Старые CSV удаляем заранее; ошибка удаления не прерывает экспорт
	e.deleteExistingCSV(ctx, logger)

	source := dirPrefix(e.Segment.Prefix) + "output/" + jobName + "/"
	keys, err := e.Store.List(ctx, e.Segment.Bucket, source)
	if err != nil {
		return nil, fmt.Errorf("list segment output: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"item_id", "user_id"}); err != nil {
		return nil, err
	}

	files, rows := 0, 0
	for _, key := range keys {
		if !strings.HasSuffix(key, segmentFileSuffix) {
			continue
		}
		files++

		n, err := e.convert(ctx, key, w, logger)
		if err != nil {
			return nil, err
		}
		rows += n
	}

	if files == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSegmentFiles, URI(e.Segment.Bucket, source))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	targetKey := dirPrefix(e.Target.Prefix) + "segment_results_" + e.now().Format("20060102150405") + ".csv"
	if err := e.Store.Put(ctx, e.Target.Bucket, targetKey, &buf, "text/csv"); err != nil {
		return nil, fmt.Errorf("upload csv: %w", err)
	}

	logger.Info("segment results exported",
		"location", URI(e.Target.Bucket, targetKey),
		"files", files,
		"rows", rows,
	)

	return map[string]any{
		"resultLocation": URI(e.Target.Bucket, targetKey),
		"files":          files,
		"rows":           rows,
	}, nil
}

// convert переносит строки одного файла в CSV. Битые строки пропускаются.
func (e *SegmentExporter) convert(ctx context.Context, key string, w *csv.Writer, logger *slog.Logger) (int, error) {
	body, err := e.Store.Get(ctx, e.Segment.Bucket, key)
	if err != nil {
		return 0, fmt.Errorf("read segment file: %w", err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	rows := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec segmentLine
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("skipping malformed segment line", "key", key, "error", err)
			continue
		}
		if rec.Input.ItemID == "" {
			continue
		}

		for _, userID := range rec.Output.UsersList {
			if err := w.Write([]string{rec.Input.ItemID, userID}); err != nil {
				return rows, err
			}
			rows++
		}
	}
	if err := scanner.Err(); err != nil {
		return rows, fmt.Errorf("scan %s: %w", key, err)
	}

	logger.Debug("processed segment file", "key", key, "rows", rows)
	return rows, nil
}

func (e *SegmentExporter) deleteExistingCSV(ctx context.Context, logger *slog.Logger) {
	keys, err := e.Store.List(ctx, e.Target.Bucket, dirPrefix(e.Target.Prefix))
	if err != nil {
		logger.Error("failed to list existing csv files", "error", err)
		return
	}

	var stale []string
	for _, key := range keys {
		if strings.HasSuffix(key, ".csv") {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return
	}

	if err := e.Store.Delete(ctx, e.Target.Bucket, stale); err != nil {
		logger.Error("failed to delete existing csv files", "error", err)
		return
	}
	logger.Info("deleted existing csv files", "count", len(stale))
}

func (e *SegmentExporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *SegmentExporter) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
