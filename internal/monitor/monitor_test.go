package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/heartrate"
	"github.com/srg/heartio/internal/sink"
	"github.com/srg/heartio/internal/source"
)

// fakeDriver replays samples pushed through feed.
type fakeDriver struct {
	feed   chan heartrate.Sample
	end    chan error
	hang   chan struct{}
	stopCh chan struct{}
	once   sync.Once
	state  source.ConnectionState
	mu     sync.Mutex
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		feed:   make(chan heartrate.Sample),
		end:    make(chan error, 1),
		stopCh: make(chan struct{}),
		state:  source.Connected,
	}
}

func (d *fakeDriver) Run(ctx context.Context, out chan<- heartrate.Sample) error {
	if d.hang != nil {
		<-d.hang
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return nil
		case err := <-d.end:
			return err
		case s := <-d.feed:
			select {
			case out <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (d *fakeDriver) State() source.ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDriver) Stop() error {
	d.once.Do(func() { close(d.stopCh) })
	return nil
}

type mockStore struct{ mock.Mock }

func (s *mockStore) Append(ctx context.Context, sample heartrate.Sample) error {
	return s.Called(ctx, sample).Error(0)
}

func (s *mockStore) Close() error { return s.Called().Error(0) }

type mockNotifier struct{ mock.Mock }

func (n *mockNotifier) Send(ctx context.Context, text string) error {
	return n.Called(ctx, text).Error(0)
}

func (n *mockNotifier) Close() error { return n.Called().Error(0) }

type mockKeeper struct{ mock.Mock }

func (k *mockKeeper) Acquire() error { return k.Called().Error(0) }
func (k *mockKeeper) Release() error { return k.Called().Error(0) }

type recordingUI struct {
	mu       sync.Mutex
	samples  []int
	statuses []sink.Status
	closed   bool
	closeErr error
}

func (u *recordingUI) PushSample(s heartrate.Sample) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.samples = append(u.samples, s.BPM)
}

func (u *recordingUI) PushStatus(st sink.Status) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, st)
}

func (u *recordingUI) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return u.closeErr
}

func (u *recordingUI) Samples() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int(nil), u.samples...)
}

func (u *recordingUI) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

type MonitorTestSuite struct {
	suite.Suite

	driver   *fakeDriver
	store    *mockStore
	notifier *mockNotifier
	keeper   *mockKeeper
	ui       *recordingUI
	clock    *fakeClock
	metrics  *Metrics
	opts     Options
}

func (s *MonitorTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	table, err := heartrate.ParseThresholdTable(heartrate.DefaultLabels())
	s.Require().NoError(err)

	s.driver = newFakeDriver()
	s.store = &mockStore{}
	s.notifier = &mockNotifier{}
	s.keeper = &mockKeeper{}
	s.ui = &recordingUI{}
	s.clock = &fakeClock{now: t0}
	s.metrics = NewMetrics(prometheus.NewRegistry())

	s.opts = Options{
		Source:       "test",
		NewDriver:    func() (source.Driver, error) { return s.driver, nil },
		OpenStore:    func(context.Context) (sink.Store, error) { return s.store, nil },
		OpenNotifier: func() (sink.Notifier, error) { return s.notifier, nil },
		Guard:        s.keeper,
		UI:           s.ui,
		Selector:     heartrate.NewSelector(table, firstRand{}),
		Metrics:      s.metrics,
		Logger:       logger,
		Liveness:     time.Hour,
		StopTimeout:  time.Second,
		Now:          s.clock.Now,
	}
}

func (s *MonitorTestSuite) expectHappyLifecycle() {
	s.keeper.On("Acquire").Return(nil)
	s.keeper.On("Release").Return(nil)
	s.store.On("Close").Return(nil)
	s.notifier.On("Close").Return(nil)
}

// start runs the monitor in the background and returns its cancel and result channel.
func (s *MonitorTestSuite) start(opts Options) (*Monitor, context.CancelFunc, <-chan error) {
	m, err := New(opts)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	s.Require().Eventually(func() bool { return m.Phase() == Running }, time.Second, 5*time.Millisecond)
	return m, cancel, done
}

// feed pushes a sample at the given clock offset and waits until it was dispatched.
func (s *MonitorTestSuite) feed(offset time.Duration, bpm int) {
	before := testutil.ToFloat64(s.metrics.samples)
	s.clock.Set(t0.Add(offset))
	s.driver.feed <- heartrate.Sample{BPM: bpm, ObservedAt: t0.Add(offset)}
	s.Require().Eventually(func() bool {
		return testutil.ToFloat64(s.metrics.samples) == before+1
	}, time.Second, time.Millisecond)
}

func (s *MonitorTestSuite) wait(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("monitor did not stop")
		return nil
	}
}

func (s *MonitorTestSuite) notifications(result string) float64 {
	return testutil.ToFloat64(s.metrics.notifications.WithLabelValues(result))
}

func (s *MonitorTestSuite) TestDispatch_FanOutAndThrottle() {
	s.expectHappyLifecycle()
	s.store.On("Append", mock.Anything, mock.Anything).Return(nil)
	s.notifier.On("Send", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	m, cancel, done := s.start(s.opts)

	s.feed(0, 72)
	s.feed(1000*time.Millisecond, 75)
	s.feed(1600*time.Millisecond, 78)

	cancel()
	s.NoError(s.wait(done))

	s.Equal([]int{72, 75, 78}, s.ui.Samples())
	s.store.AssertNumberOfCalls(s.T(), "Append", 3)
	s.notifier.AssertNumberOfCalls(s.T(), "Send", 2)
	s.notifier.AssertCalled(s.T(), "Send", mock.Anything, "❤️ 72")
	s.notifier.AssertCalled(s.T(), "Send", mock.Anything, "❤️ 78")

	s.EqualValues(2, s.notifications(ResultSent))
	s.EqualValues(1, s.notifications(ResultSuppressed))
	s.EqualValues(78, testutil.ToFloat64(s.metrics.lastBPM))

	st := m.Status()
	s.Equal("stopped", st.Phase)
	s.EqualValues(3, st.Samples)
	s.InDelta(75.0, st.AverageBPM, 0.001)
	s.Equal(78, st.LastBPM)
	s.True(st.StoreReady)
	s.True(st.NotifierReady)
}

func (s *MonitorTestSuite) TestSendFailure_DoesNotConsumeWindow() {
	s.expectHappyLifecycle()
	s.store.On("Append", mock.Anything, mock.Anything).Return(nil)
	s.notifier.On("Send", mock.Anything, mock.Anything).Return(sink.ErrSend).Once()
	s.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, cancel, done := s.start(s.opts)

	s.feed(0, 72)
	s.feed(100*time.Millisecond, 73)
	s.feed(200*time.Millisecond, 74)

	cancel()
	s.NoError(s.wait(done))

	s.notifier.AssertNumberOfCalls(s.T(), "Send", 2)
	s.EqualValues(1, s.notifications(ResultFailed))
	s.EqualValues(1, s.notifications(ResultSent))
	s.EqualValues(1, s.notifications(ResultSuppressed))
}

func (s *MonitorTestSuite) TestStoreFailure_IsNotFatal() {
	s.expectHappyLifecycle()
	s.store.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	s.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	m, cancel, done := s.start(s.opts)

	s.feed(0, 72)
	s.feed(2*time.Second, 80)
	s.Equal(Running, m.Phase())

	cancel()
	s.NoError(s.wait(done))

	s.EqualValues(2, testutil.ToFloat64(s.metrics.storeFailures))
	s.EqualValues(2, s.notifications(ResultSent))
	s.Equal([]int{72, 80}, s.ui.Samples())
}

func (s *MonitorTestSuite) TestStoreOpenFailure_IsFatal() {
	boom := errors.New("read-only filesystem")
	opts := s.opts
	opts.OpenStore = func(context.Context) (sink.Store, error) { return nil, boom }
	opened := false
	opts.OpenNotifier = func() (sink.Notifier, error) { opened = true; return s.notifier, nil }
	created := false
	opts.NewDriver = func() (source.Driver, error) { created = true; return s.driver, nil }

	m, err := New(opts)
	s.Require().NoError(err)

	err = m.Run(context.Background())
	s.ErrorIs(err, boom)
	s.False(opened)
	s.False(created)
	s.Equal(Stopped, m.Phase())
	s.True(s.ui.Closed())
	s.keeper.AssertNotCalled(s.T(), "Acquire")
}

func (s *MonitorTestSuite) TestNotifierOpenFailure_IsFatal() {
	boom := errors.New("bad address")
	s.store.On("Close").Return(nil)
	opts := s.opts
	opts.OpenNotifier = func() (sink.Notifier, error) { return nil, boom }

	m, err := New(opts)
	s.Require().NoError(err)

	err = m.Run(context.Background())
	s.ErrorIs(err, boom)
	s.store.AssertCalled(s.T(), "Close")
	s.Equal(Stopped, m.Phase())
}

func (s *MonitorTestSuite) TestDriverCreationFailure_ReleasesGuard() {
	s.expectHappyLifecycle()
	opts := s.opts
	opts.NewDriver = func() (source.Driver, error) { return nil, device.ErrAdapterUnavailable }

	m, err := New(opts)
	s.Require().NoError(err)

	err = m.Run(context.Background())
	s.ErrorIs(err, device.ErrAdapterUnavailable)
	s.keeper.AssertCalled(s.T(), "Release")
	s.store.AssertCalled(s.T(), "Close")
	s.notifier.AssertCalled(s.T(), "Close")
}

func (s *MonitorTestSuite) TestGuardFailure_IsNotFatal() {
	s.keeper.On("Acquire").Return(errors.New("caffeinate not found"))
	s.keeper.On("Release").Return(nil)
	s.store.On("Close").Return(nil)
	s.notifier.On("Close").Return(nil)
	s.store.On("Append", mock.Anything, mock.Anything).Return(nil)
	s.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, cancel, done := s.start(s.opts)
	s.feed(0, 90)

	cancel()
	s.NoError(s.wait(done))
	s.Equal([]int{90}, s.ui.Samples())
}

func (s *MonitorTestSuite) TestDriverError_EndsRun() {
	s.expectHappyLifecycle()

	m, _, done := s.start(s.opts)
	s.driver.end <- device.ErrConnectionLost

	err := s.wait(done)
	s.ErrorIs(err, device.ErrConnectionLost)
	s.Equal(Stopped, m.Phase())
	s.keeper.AssertCalled(s.T(), "Release")
	s.store.AssertCalled(s.T(), "Close")
	s.notifier.AssertCalled(s.T(), "Close")
	s.True(s.ui.Closed())
}

func (s *MonitorTestSuite) TestDrain_StepsAreIndependent() {
	releaseErr := errors.New("release failed")
	storeErr := errors.New("store close failed")
	notifierErr := errors.New("notifier close failed")
	uiErr := errors.New("ui close failed")

	s.keeper.On("Acquire").Return(nil)
	s.keeper.On("Release").Return(releaseErr)
	s.store.On("Close").Return(storeErr)
	s.notifier.On("Close").Return(notifierErr)
	s.ui.closeErr = uiErr

	_, cancel, done := s.start(s.opts)
	cancel()

	err := s.wait(done)
	s.ErrorIs(err, releaseErr)
	s.ErrorIs(err, storeErr)
	s.ErrorIs(err, notifierErr)
	s.ErrorIs(err, uiErr)
	s.True(s.ui.Closed())
}

func (s *MonitorTestSuite) TestDrain_AbandonsStuckDriver() {
	s.expectHappyLifecycle()
	s.driver.hang = make(chan struct{})
	defer close(s.driver.hang)

	opts := s.opts
	opts.StopTimeout = 50 * time.Millisecond

	_, cancel, done := s.start(opts)
	cancel()

	err := s.wait(done)
	s.Require().Error(err)
	s.Contains(err.Error(), "did not stop")
	s.store.AssertCalled(s.T(), "Close")
}

func (s *MonitorTestSuite) TestLivenessTick_PushesStatus() {
	s.expectHappyLifecycle()
	opts := s.opts
	opts.Liveness = 10 * time.Millisecond

	_, cancel, done := s.start(opts)
	s.Eventually(func() bool {
		s.ui.mu.Lock()
		defer s.ui.mu.Unlock()
		for _, st := range s.ui.statuses {
			if st.Phase == "running" && st.Connection == "connected" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(s.wait(done))
	s.EqualValues(float64(source.Connected), testutil.ToFloat64(s.metrics.connection))
}

func (s *MonitorTestSuite) TestRunTwice() {
	s.expectHappyLifecycle()

	m, cancel, done := s.start(s.opts)
	cancel()
	s.NoError(s.wait(done))

	s.ErrorIs(m.Run(context.Background()), ErrAlreadyRun)
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func TestNew_RequiresDriver(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(Options{NewDriver: func() (source.Driver, error) { return newFakeDriver(), nil }})
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, "starting", st.Phase)
	assert.Equal(t, "idle", st.Connection)
	assert.False(t, st.StoreReady)
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeSample(72)
	m.observeNotification(ResultSent)

	assert.EqualValues(t, 1, testutil.ToFloat64(m.samples))
	assert.EqualValues(t, 72, testutil.ToFloat64(m.lastBPM))

	count, err := testutil.GatherAndCount(reg, "heartio_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NotNil(t, m.Handler())
}
