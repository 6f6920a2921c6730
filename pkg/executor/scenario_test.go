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

package executor

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/segment"
	"github.com/signaldata/loaderengine/pkg/timewindow"
	"github.com/signaldata/loaderengine/pkg/transform"
)

// inMemorySegmentStore is a minimal Store: first inserter for a
// (loaderCode, tuple) pair wins, exactly like the real upsert it
// stands in for.
type inMemorySegmentStore struct {
	mu    sync.Mutex
	codes map[string]int64
	next  int64
}

func newInMemorySegmentStore() *inMemorySegmentStore {
	return &inMemorySegmentStore{codes: map[string]int64{}}
}

func (s *inMemorySegmentStore) GetOrCreateCode(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := loaderCode
	for _, v := range tuple {
		if v == nil {
			key += "|<nil>"
			continue
		}
		key += "|" + *v
	}
	if code, ok := s.codes[key]; ok {
		return code, nil
	}
	s.next++
	s.codes[key] = s.next
	return s.next, nil
}

// fixedClock lets S2's consecutive catch-up runs advance "now" between
// executions without a sleep.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("end-to-end execution scenarios", func() {
	var (
		loaders *fakeLoaderStore
		sources *fakeSourceStore
		history *fakeHistoryStore
		signals *fakeSignalsStore
		logger  *logrus.Logger
		ctx     context.Context
	)

	BeforeEach(func() {
		loaders = &fakeLoaderStore{}
		sources = &fakeSourceStore{source: models.SourceDatabase{DBCode: "SRC1"}}
		history = &fakeHistoryStore{}
		signals = &fakeSignalsStore{ingested: 0}
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
		ctx = context.Background()
	})

	// S1: first run, no watermark. now=2025-01-15T12:00:00Z, default
	// lookback 24h with no lastLoadTimestamp, and maxQueryPeriodSeconds
	// set to 86400 so the whole lookback fits in one window:
	// [2025-01-14T12:00:00Z, 2025-01-15T12:00:00Z). (With the 3600s
	// period of newTestLoader the window would end at 2025-01-14T13:00:00Z;
	// see pkg/timewindow's S1 spec.)
	It("S1: pulls the full lookback window on a loader with no watermark", func() {
		now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
		clock := &fixedClock{now: now}
		calc := &timewindow.Calculator{Now: clock.Now, LookbackHours: 24}

		segStore := newInMemorySegmentStore()
		segDict := segment.NewDictionary(segStore, nil)
		transformer := transform.New(segDict)
		transformer.Now = clock.Now

		rowTimes := []int64{1736942400, 1736946000, 1736949600}
		rowSegments := []string{"A", "B", "A"}
		rows := make([]transform.Row, 0, 3)
		for i := range rowTimes {
			rows = append(rows, transform.Row{"ts": rowTimes[i], "segment_1": rowSegments[i]})
		}
		query := &fakeQueryRunner{rows: rows}
		signals.ingested = 3

		exec := &Executor{
			Loaders: loaders, SourceDatabases: sources, History: history,
			Query: query, Signals: signals, Window: calc, Transform: transformer,
			ReplicaName: "replica-1", HungThreshold: 30 * time.Minute, Logger: logger,
		}

		loader := newTestLoader()
		loader.LastLoadTimestamp = nil
		loader.MaxQueryPeriodSeconds = 24 * 3600

		result := exec.Execute(ctx, loader)

		Expect(result.Status).To(Equal(models.HistorySuccess))
		Expect(*result.QueryFromTime).To(Equal(time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC)))
		Expect(*result.QueryToTime).To(Equal(now))
		Expect(result.RecordsLoaded).To(Equal(int64(3)))
		Expect(result.RecordsIngested).To(Equal(int64(3)))

		Expect(*loader.LastLoadTimestamp).To(Equal(now))
		Expect(loader.LoadStatus).To(Equal(models.LoadStatusIdle))
		Expect(history.finished).To(ContainElement("SUCCESS"))

		// The two "A" rows resolve to the same segment code; "B" differs.
		tupleA := models.SegmentTuple{}
		a := "A"
		tupleA[0] = &a
		codeA, err := segStore.GetOrCreateCode(ctx, loader.LoaderCode, tupleA)
		Expect(err).NotTo(HaveOccurred())

		tupleB := models.SegmentTuple{}
		b := "B"
		tupleB[0] = &b
		codeB, err := segStore.GetOrCreateCode(ctx, loader.LoaderCode, tupleB)
		Expect(err).NotTo(HaveOccurred())

		Expect(codeA).NotTo(Equal(codeB))
	})

	// S2: catch-up. A loader whose watermark is far behind now advances
	// in maxQueryPeriodSeconds-bounded steps across consecutive
	// dispatch cycles, with the final run capped at now rather than
	// overshooting.
	It("S2: advances the watermark in bounded steps until caught up", func() {
		now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
		clock := &fixedClock{now: now}
		calc := &timewindow.Calculator{Now: clock.Now, LookbackHours: 24}

		segStore := newInMemorySegmentStore()
		segDict := segment.NewDictionary(segStore, nil)
		transformer := transform.New(segDict)

		query := &fakeQueryRunner{rows: nil}
		signals.ingested = 0

		exec := &Executor{
			Loaders: loaders, SourceDatabases: sources, History: history,
			Query: query, Signals: signals, Window: calc, Transform: transformer,
			ReplicaName: "replica-1", HungThreshold: 30 * time.Minute, Logger: logger,
		}

		loader := newTestLoader()
		loader.MaxQueryPeriodSeconds = 5 * 24 * 3600 // 5-day steps
		start := now.Add(-17 * 24 * time.Hour)
		loader.LastLoadTimestamp = &start

		var windows []timewindow.Window
		for i := 0; i < 10; i++ {
			result := exec.Execute(ctx, loader)
			Expect(result.Status).To(Equal(models.HistorySuccess))
			windows = append(windows, timewindow.Window{From: *result.QueryFromTime, To: *result.QueryToTime})
			if *loader.LastLoadTimestamp == now || loader.LastLoadTimestamp.Equal(now) {
				break
			}
		}

		Expect(*loader.LastLoadTimestamp).To(Equal(now))
		// Every step but the last covers a full 5-day span; the last is
		// capped at now rather than overshooting it.
		for _, w := range windows[:len(windows)-1] {
			Expect(w.To.Sub(w.From)).To(Equal(5 * 24 * time.Hour))
		}
		last := windows[len(windows)-1]
		Expect(last.To).To(Equal(now))
		Expect(last.To.Sub(last.From)).To(BeNumerically("<=", 5*24*time.Hour))
	})

	// S6: clock skew. A watermark recorded in the future (relative to
	// this replica's clock) must never produce a window that reaches
	// into the future; it falls back to the same lookback window a
	// missing watermark would produce.
	It("S6: a future watermark falls back to the lookback window instead of a future range", func() {
		now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
		clock := &fixedClock{now: now}
		calc := &timewindow.Calculator{Now: clock.Now, LookbackHours: 24}

		segStore := newInMemorySegmentStore()
		segDict := segment.NewDictionary(segStore, nil)
		transformer := transform.New(segDict)

		query := &fakeQueryRunner{rows: nil}
		signals.ingested = 0

		exec := &Executor{
			Loaders: loaders, SourceDatabases: sources, History: history,
			Query: query, Signals: signals, Window: calc, Transform: transformer,
			ReplicaName: "replica-1", HungThreshold: 30 * time.Minute, Logger: logger,
		}

		loader := newTestLoader()
		skewed := now.Add(time.Hour)
		loader.LastLoadTimestamp = &skewed

		result := exec.Execute(ctx, loader)

		Expect(result.Status).To(Equal(models.HistorySuccess))
		Expect(*result.QueryFromTime).To(Equal(now.Add(-24 * time.Hour)))
		Expect(*result.QueryToTime).To(BeTemporally("<=", now))
		Expect(result.QueryToTime.After(now)).To(BeFalse())
	})
})
