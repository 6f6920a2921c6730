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

package scheduler

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/signaldata/loaderengine/pkg/lock"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/recovery"
)

// loaderRegistry is a shared, mutation-visible backing store standing
// in for the central monitoring store across a scenario: whatever a
// scenarioExecutor or registryRecoveryStore writes, the next
// ListEligibleCandidates call observes.
type loaderRegistry struct {
	mu    sync.Mutex
	items map[string]*models.Loader
}

func newLoaderRegistry(loaders ...models.Loader) *loaderRegistry {
	r := &loaderRegistry{items: make(map[string]*models.Loader)}
	for i := range loaders {
		l := loaders[i]
		r.items[l.LoaderCode] = &l
	}
	return r
}

func (r *loaderRegistry) ListEligibleCandidates(ctx context.Context) ([]models.Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Loader, 0, len(r.items))
	for _, l := range r.items {
		out = append(out, *l)
	}
	return out, nil
}

func (r *loaderRegistry) mutate(code string, fn func(*models.Loader)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.items[code]; ok {
		fn(l)
	}
}

func (r *loaderRegistry) get(code string) models.Loader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[code]
}

// scenarioExecutor simulates the effect a real executor.Executor has on
// the central store: on success it advances the watermark, on failure
// it flips the loader to FAILED and stamps failedSince, both written
// through to the shared registry exactly like LoaderStore.UpdateWatermark
// would persist them.
type scenarioExecutor struct {
	registry *loaderRegistry
	fail     map[string]bool
	started  chan string
	block    chan struct{}
}

func newScenarioExecutor(registry *loaderRegistry) *scenarioExecutor {
	return &scenarioExecutor{registry: registry, fail: map[string]bool{}, started: make(chan string, 16)}
}

func (e *scenarioExecutor) Execute(ctx context.Context, loader *models.Loader) *models.LoadHistory {
	e.started <- loader.LoaderCode
	if e.block != nil {
		<-e.block
	}

	if e.fail[loader.LoaderCode] {
		now := time.Now()
		e.registry.mutate(loader.LoaderCode, func(l *models.Loader) {
			l.LoadStatus = models.LoadStatusFailed
			if l.FailedSince == nil {
				l.FailedSince = &now
			}
		})
		return &models.LoadHistory{LoaderCode: loader.LoaderCode, Status: models.HistoryFailed}
	}

	now := time.Now()
	e.registry.mutate(loader.LoaderCode, func(l *models.Loader) {
		l.LoadStatus = models.LoadStatusIdle
		l.FailedSince = nil
		l.LastLoadTimestamp = &now
	})
	return &models.LoadHistory{LoaderCode: loader.LoaderCode, Status: models.HistorySuccess}
}

// registryRecoveryStore implements recovery.Store against the same
// shared registry, so the scenario's recovery tick and dispatch tick
// observe one another's writes.
type registryRecoveryStore struct {
	registry *loaderRegistry
}

func (s *registryRecoveryStore) ResetExpiredFailed(ctx context.Context, threshold time.Duration) (int, error) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	n := 0
	now := time.Now()
	for _, l := range s.registry.items {
		if l.LoadStatus == models.LoadStatusFailed && l.FailedSince != nil && now.Sub(*l.FailedSince) >= threshold {
			l.LoadStatus = models.LoadStatusIdle
			l.FailedSince = nil
			n++
		}
	}
	return n, nil
}

func (s *registryRecoveryStore) ResetHungRunning(ctx context.Context, hungThreshold time.Duration) (int, error) {
	return 0, nil
}

// leaseRecord is one held or released execution lock lease.
type leaseRecord struct {
	loaderCode string
	acquiredAt time.Time
	released   bool
}

// inMemoryLockStore is a lock.Store good enough to exercise real
// cross-replica contention and stale-lock reclaim: TryAcquire enforces
// maxParallel against a live held-count, ReclaimStale walks every
// unreleased lease older than maxAge.
type inMemoryLockStore struct {
	mu     sync.Mutex
	nextID int64
	leases map[int64]*leaseRecord
	held   map[string]int
}

func newInMemoryLockStore() *inMemoryLockStore {
	return &inMemoryLockStore{leases: make(map[int64]*leaseRecord), held: make(map[string]int)}
}

func (s *inMemoryLockStore) TryAcquire(ctx context.Context, loaderCode string, maxParallel int, replicaName string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[loaderCode] >= maxParallel {
		return 0, false, nil
	}
	s.nextID++
	id := s.nextID
	s.leases[id] = &leaseRecord{loaderCode: loaderCode, acquiredAt: time.Now()}
	s.held[loaderCode]++
	return id, true, nil
}

func (s *inMemoryLockStore) Release(ctx context.Context, lockID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[lockID]
	if !ok || l.released {
		return nil
	}
	l.released = true
	s.held[l.loaderCode]--
	return nil
}

func (s *inMemoryLockStore) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, l := range s.leases {
		if !l.released && now.Sub(l.acquiredAt) >= maxAge {
			l.released = true
			s.held[l.loaderCode]--
			n++
		}
	}
	return n, nil
}

// forceStaleLease plants an unreleased lease as if a replica had
// acquired it age ago and then died before releasing it.
func (s *inMemoryLockStore) forceStaleLease(loaderCode string, age time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.leases[id] = &leaseRecord{loaderCode: loaderCode, acquiredAt: time.Now().Add(-age)}
	s.held[loaderCode]++
	return id
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

var _ = Describe("cross-replica scenarios", func() {
	// S3: lock contention. Two replicas' schedulers race to dispatch
	// the same loader at MaxParallelExecutions=1; only one may run it
	// at a time, and the loser is free to try again once the winner
	// releases.
	It("S3: a second replica is denied the lock while the first still holds it, then succeeds after release", func() {
		registry := newLoaderRegistry(models.Loader{
			LoaderCode: "SIG_SHARED", LoadStatus: models.LoadStatusIdle, MaxParallelExecutions: 1,
		})
		lockStore := newInMemoryLockStore()
		lockSvc := lock.NewService(lockStore, quietLogger())

		exec1 := newScenarioExecutor(registry)
		exec1.block = make(chan struct{})
		exec2 := newScenarioExecutor(registry)

		now := time.Now()
		s1 := New(registry, lockSvc, exec1, nil, "replica-1", Config{RecoveryThreshold: time.Hour, WorkerPoolSize: 4}, quietLogger())
		s1.Now = func() time.Time { return now }
		s2 := New(registry, lockSvc, exec2, nil, "replica-2", Config{RecoveryThreshold: time.Hour, WorkerPoolSize: 4}, quietLogger())
		s2.Now = func() time.Time { return now }

		s1.dispatchTick(context.Background())
		Eventually(exec1.started).Should(Receive(Equal("SIG_SHARED")))

		// replica-1 is still mid-execution (blocked); replica-2's tick
		// must not also start it.
		s2.dispatchTick(context.Background())
		Consistently(exec2.started, 50*time.Millisecond).ShouldNot(Receive())

		close(exec1.block)
		Eventually(func() models.LoadStatus { return registry.get("SIG_SHARED").LoadStatus }).Should(Equal(models.LoadStatusIdle))

		s2.dispatchTick(context.Background())
		Eventually(exec2.started).Should(Receive(Equal("SIG_SHARED")))
	})

	// S4: failure then recovery. A loader fails, is left alone until
	// its failedSince crosses the recovery threshold, is reset to IDLE
	// by the recovery tick, and is dispatched again on the next tick.
	It("S4: a FAILED loader is reset by recovery and re-dispatched", func() {
		registry := newLoaderRegistry(models.Loader{
			LoaderCode: "SIG_RETRY", LoadStatus: models.LoadStatusIdle, MaxParallelExecutions: 1,
		})
		lockStore := newInMemoryLockStore()
		lockSvc := lock.NewService(lockStore, quietLogger())
		exec := newScenarioExecutor(registry)
		exec.fail["SIG_RETRY"] = true

		rec := recovery.New(&registryRecoveryStore{registry: registry}, 20*time.Minute, 30*time.Minute, quietLogger())

		now := time.Now()
		s := New(registry, lockSvc, exec, rec, "replica-1", Config{RecoveryThreshold: 20 * time.Minute, WorkerPoolSize: 4}, quietLogger())
		s.Now = func() time.Time { return now }

		s.dispatchTick(context.Background())
		Eventually(exec.started).Should(Receive(Equal("SIG_RETRY")))
		Eventually(func() models.LoadStatus { return registry.get("SIG_RETRY").LoadStatus }).Should(Equal(models.LoadStatusFailed))

		// Immediately retrying is a no-op: failedSince hasn't crossed
		// the recovery threshold yet.
		s.dispatchTick(context.Background())
		Consistently(exec.started, 50*time.Millisecond).ShouldNot(Receive())

		// Backdate failedSince past the threshold, as if enough wall
		// clock time had elapsed, and let the recovery tick run.
		past := time.Now().Add(-time.Hour)
		registry.mutate("SIG_RETRY", func(l *models.Loader) { l.FailedSince = &past })
		s.recoveryTick(context.Background())
		Expect(registry.get("SIG_RETRY").LoadStatus).To(Equal(models.LoadStatusIdle))
		Expect(registry.get("SIG_RETRY").FailedSince).To(BeNil())

		// Now a fresh dispatch tick picks it back up and this time it
		// succeeds.
		exec.fail["SIG_RETRY"] = false
		s.dispatchTick(context.Background())
		Eventually(exec.started).Should(Receive(Equal("SIG_RETRY")))
		Eventually(func() models.LoadStatus { return registry.get("SIG_RETRY").LoadStatus }).Should(Equal(models.LoadStatusIdle))
		Expect(registry.get("SIG_RETRY").LastLoadTimestamp).NotTo(BeNil())
	})

	// S5: stale lock reclaim. A replica acquires the lock and dies
	// without releasing it; once the lease is older than
	// staleLockMaxAge, the stale-lock tick reclaims it and a second
	// replica can immediately acquire the loader.
	It("S5: a dead replica's stale lease is reclaimed and a second replica acquires it", func() {
		registry := newLoaderRegistry(models.Loader{
			LoaderCode: "SIG_ORPHAN", LoadStatus: models.LoadStatusIdle, MaxParallelExecutions: 1,
		})
		lockStore := newInMemoryLockStore()
		lockStore.forceStaleLease("SIG_ORPHAN", 2*time.Hour)

		lockSvc := lock.NewService(lockStore, quietLogger())
		exec := newScenarioExecutor(registry)
		now := time.Now()
		s := New(registry, lockSvc, exec, nil, "replica-2", Config{RecoveryThreshold: time.Hour, StaleLockMaxAge: time.Hour, WorkerPoolSize: 4}, quietLogger())
		s.Now = func() time.Time { return now }

		s.dispatchTick(context.Background())
		Consistently(exec.started, 50*time.Millisecond).ShouldNot(Receive())

		s.staleLockTick(context.Background())

		s.dispatchTick(context.Background())
		Eventually(exec.started).Should(Receive(Equal("SIG_ORPHAN")))
	})
})
