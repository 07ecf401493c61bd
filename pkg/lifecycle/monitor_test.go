package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/shared-bitmap/pkg/bitmap"
)

type recordingObserver struct {
	mu      sync.Mutex
	removed []bitmap.ProcessID
}

func (o *recordingObserver) RemoveByProcess(owner bitmap.ProcessID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, owner)
	return 1
}

func (o *recordingObserver) calls() []bitmap.ProcessID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bitmap.ProcessID(nil), o.removed...)
}

type fakeProcesses struct {
	mu    sync.Mutex
	alive map[int32]bool
	fails atomic.Int32
}

func (f *fakeProcesses) exists(_ context.Context, pid int32) (bool, error) {
	if f.fails.Load() > 0 {
		f.fails.Add(-1)
		return false, errors.New("probe failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid], nil
}

func (f *fakeProcesses) kill(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = false
}

type MonitorTestSuite struct {
	suite.Suite
	observer *recordingObserver
	procs    *fakeProcesses
	monitor  *Monitor
}

func (s *MonitorTestSuite) SetupTest() {
	s.observer = &recordingObserver{}
	s.procs = &fakeProcesses{alive: map[int32]bool{1: true, 2: true}}
	conf := DefaultConfig()
	conf.PollInterval = 10 * time.Millisecond
	conf.Exists = s.procs.exists
	m, err := NewMonitor(s.observer, conf)
	s.Require().NoError(err)
	s.monitor = m
}

func (s *MonitorTestSuite) TestPollReportsDeadProcesses() {
	s.monitor.Watch(1)
	s.monitor.Watch(2)
	s.Require().Zero(s.monitor.Poll(context.Background()))

	s.procs.kill(2)
	s.Require().Equal(1, s.monitor.Poll(context.Background()))
	s.Require().Equal([]bitmap.ProcessID{2}, s.observer.calls())
	s.Require().False(s.monitor.Watching(2))
	s.Require().True(s.monitor.Watching(1))

	s.Require().Zero(s.monitor.Poll(context.Background()))
}

func (s *MonitorTestSuite) TestProbeRetriesTransientFailures() {
	s.monitor.Watch(1)
	s.procs.kill(1)
	s.procs.fails.Store(2)
	s.Require().Equal(1, s.monitor.Poll(context.Background()))
}

func (s *MonitorTestSuite) TestPersistentProbeFailureKeepsWatching() {
	s.monitor.Watch(1)
	s.procs.kill(1)
	s.procs.fails.Store(100)
	s.Require().Zero(s.monitor.Poll(context.Background()))
	s.Require().True(s.monitor.Watching(1))
	s.Require().Empty(s.observer.calls())
}

func (s *MonitorTestSuite) TestProcessExitedIsRepeatable() {
	s.monitor.Watch(1)
	s.monitor.ProcessExited(1)
	s.monitor.ProcessExited(1)
	s.Require().Equal([]bitmap.ProcessID{1, 1}, s.observer.calls())
	s.Require().Zero(s.monitor.Watched())
}

func (s *MonitorTestSuite) TestUnwatch() {
	s.monitor.Watch(1)
	s.monitor.Unwatch(1)
	s.procs.kill(1)
	s.Require().Zero(s.monitor.Poll(context.Background()))
	s.Require().Empty(s.observer.calls())
}

func (s *MonitorTestSuite) TestRunStopsWithContext() {
	s.monitor.Watch(1)
	s.procs.kill(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.monitor.Run(ctx) }()

	s.Require().Eventually(func() bool {
		return len(s.observer.calls()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.Require().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("Run did not return after cancel")
	}
}

func (s *MonitorTestSuite) TestConfig() {
	_, err := NewMonitor(nil, nil)
	s.Require().Error(err)

	conf := DefaultConfig()
	conf.PollInterval = 0
	_, err = NewMonitor(s.observer, conf)
	s.Require().Error(err)

	conf = DefaultConfig()
	conf.Exists = nil
	s.Require().Error(VerifyConfig(conf))
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
