/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transform maps heterogeneous source result rows to canonical
// signal records, resolving segment tuples to integer segment codes via
// the segment dictionary.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	lerrors "github.com/signaldata/loaderengine/internal/errors"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/segment"
)

// Row is one source result row, materialised as lower-cased column name
// to value, per the source DB pool manager's contract.
type Row map[string]any

var timestampCandidates = []string{"timestamp", "ts", "time", "load_time_stamp"}

const msThreshold = 1e11

// Transformer is the C6 contract surface.
type Transformer struct {
	Segments *segment.Dictionary
	Now      func() time.Time
}

func New(segments *segment.Dictionary) *Transformer {
	return &Transformer{Segments: segments, Now: time.Now}
}

// Transform converts result into SignalsHistory rows. An empty result
// yields an empty, non-error output.
func (t *Transformer) Transform(ctx context.Context, loaderCode string, result []Row, timezoneOffsetHours int) ([]models.SignalsHistory, error) {
	out := make([]models.SignalsHistory, 0, len(result))

	for _, row := range result {
		loadTS, err := resolveTimestamp(row)
		if err != nil {
			return nil, err
		}

		tuple := extractSegments(row)
		code, err := t.Segments.GetOrCreateCode(ctx, loaderCode, tuple)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment code: %w", err)
		}

		out = append(out, models.SignalsHistory{
			LoaderCode:    loaderCode,
			LoadTimeStamp: loadTS,
			SegmentCode:   strconv.FormatInt(code, 10),
			RecCount:      extractAggregate(row, "rec_count"),
			MaxVal:        extractAggregate(row, "max_val"),
			MinVal:        extractAggregate(row, "min_val"),
			AvgVal:        extractAggregate(row, "avg_val"),
			SumVal:        extractAggregate(row, "sum_val"),
			CreateTime:    t.Now(),
		})
	}

	return out, nil
}

func lookupCI(row Row, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	for k, v := range row {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

func resolveTimestamp(row Row) (int64, error) {
	var raw any
	found := false
	for _, candidate := range timestampCandidates {
		if v, ok := lookupCI(row, candidate); ok {
			raw = v
			found = true
			break
		}
	}
	if !found {
		return 0, lerrors.New(lerrors.KindTransformMissingTS, fmt.Errorf("no timestamp column among %v", timestampCandidates))
	}

	switch v := raw.(type) {
	case time.Time:
		return v.Unix(), nil
	case int64:
		return normalizeIntEpoch(v), nil
	case int:
		return normalizeIntEpoch(int64(v)), nil
	case int32:
		return normalizeIntEpoch(int64(v)), nil
	case float64:
		return normalizeIntEpoch(int64(v)), nil
	case string:
		return parseTimestampString(v)
	default:
		return 0, lerrors.New(lerrors.KindTransformBadTS, fmt.Errorf("unsupported timestamp type %T", raw))
	}
}

func normalizeIntEpoch(v int64) int64 {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	if abs > int64(msThreshold) {
		return v / 1000
	}
	return v
}

func parseTimestampString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalizeIntEpoch(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return normalizeIntEpoch(int64(f)), nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Unix(), nil
		}
	}
	return 0, lerrors.New(lerrors.KindTransformBadTS, fmt.Errorf("could not parse timestamp %q", s))
}

func extractSegments(row Row) models.SegmentTuple {
	var tuple models.SegmentTuple
	for i := 0; i < 10; i++ {
		col := fmt.Sprintf("segment_%d", i+1)
		v, ok := lookupCI(row, col)
		if !ok || v == nil {
			continue
		}
		s := toString(v)
		tuple[i] = &s
	}
	return tuple
}

func extractAggregate(row Row, col string) *float64 {
	v, ok := lookupCI(row, col)
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
