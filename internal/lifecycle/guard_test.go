//go:build unix

package lifecycle

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

type GuardTestSuite struct {
	suite.Suite
	guard *Guard
	spawn int
}

func (s *GuardTestSuite) SetupTest() {
	helperPID.Store(0)
	s.spawn = 0
	s.guard = NewGuard(nil)
	s.guard.wait = 200 * time.Millisecond
	s.guard.command = func() *exec.Cmd {
		s.spawn++
		return exec.Command("sleep", "30")
	}
}

func (s *GuardTestSuite) TearDownTest() {
	CrashRelease()
	_ = s.guard.Release()
}

func (s *GuardTestSuite) acquire() (int, <-chan struct{}) {
	s.Require().NoError(s.guard.Acquire())
	s.Require().True(s.guard.Held())
	s.guard.mu.Lock()
	defer s.guard.mu.Unlock()
	return s.guard.cmd.Process.Pid, s.guard.exited
}

func (s *GuardTestSuite) assertExited(exited <-chan struct{}) {
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		s.Fail("helper process is still running")
	}
}

func (s *GuardTestSuite) TestAcquireIsIdempotent() {
	pid, _ := s.acquire()
	s.Require().NoError(s.guard.Acquire())

	s.Equal(1, s.spawn)
	s.Equal(int64(pid), helperPID.Load())
}

func (s *GuardTestSuite) TestReleaseTwice() {
	_, exited := s.acquire()

	s.NoError(s.guard.Release())
	s.assertExited(exited)
	s.Zero(helperPID.Load())
	s.False(s.guard.Held())

	s.NoError(s.guard.Release())
}

func (s *GuardTestSuite) TestReleaseWithoutAcquire() {
	s.NoError(s.guard.Release())
	s.Zero(s.spawn)
}

func (s *GuardTestSuite) TestCrashAfterReleaseIsNoop() {
	_, exited := s.acquire()
	s.Require().NoError(s.guard.Release())
	s.assertExited(exited)

	s.NotPanics(CrashRelease)
	s.Zero(helperPID.Load())
}

func (s *GuardTestSuite) TestReleaseAfterCrash() {
	_, exited := s.acquire()

	CrashRelease()
	s.assertExited(exited)
	s.Zero(helperPID.Load())

	s.NoError(s.guard.Release())
	s.False(s.guard.Held())
}

func (s *GuardTestSuite) TestReacquireAfterRelease() {
	first, _ := s.acquire()
	s.Require().NoError(s.guard.Release())

	second, _ := s.acquire()
	s.NotEqual(first, second)
	s.Equal(2, s.spawn)
}

func (s *GuardTestSuite) TestKillsHelperIgnoringTerm() {
	s.guard.command = func() *exec.Cmd {
		return exec.Command("sh", "-c", `trap "" TERM; exec sleep 30`)
	}
	pid, exited := s.acquire()

	s.NoError(s.guard.Release())
	s.assertExited(exited)
	s.ErrorIs(unix.Kill(pid, 0), unix.ESRCH)
}

func (s *GuardTestSuite) TestUnsupportedPlatform() {
	s.guard.command = func() *exec.Cmd { return nil }

	s.NoError(s.guard.Acquire())
	s.False(s.guard.Held())
	s.NoError(s.guard.Release())
}

func (s *GuardTestSuite) TestStartFailure() {
	s.guard.command = func() *exec.Cmd { return exec.Command("/nonexistent/keep-awake") }

	s.Error(s.guard.Acquire())
	s.False(s.guard.Held())
	s.Zero(helperPID.Load())
}

func (s *GuardTestSuite) TestRecoverAndRelease() {
	_, exited := s.acquire()

	s.PanicsWithValue("boom", func() {
		defer RecoverAndRelease()
		panic("boom")
	})
	s.assertExited(exited)
	s.Zero(helperPID.Load())
}

func TestGuardTestSuite(t *testing.T) {
	suite.Run(t, new(GuardTestSuite))
}
