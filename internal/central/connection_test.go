package central_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	. "github.com/srg/blink/internal/central"
	"github.com/srg/blink/internal/testutils"
)

// connRecorder captures connection session callback effects for assertions.
type connRecorder struct {
	mu     sync.Mutex
	states []ConnState
	pairs  []struct {
		State  ConnState
		Target string
	}
	notes []Notification
}

func (r *connRecorder) callbacks() ConnCallbacks {
	return ConnCallbacks{
		OnState: func(state ConnState, target string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, state)
			r.pairs = append(r.pairs, struct {
				State  ConnState
				Target string
			}{state, target})
		},
		OnNotify: func(n Notification) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notes = append(r.notes, n)
		},
	}
}

func (r *connRecorder) States() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}

func (r *connRecorder) Notes() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

// AssertTargetInvariant checks every published transition carried a target
// exactly when the state was not disconnected.
func (r *connRecorder) AssertTargetInvariant(suite *ConnSessionTestSuite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairs {
		if p.State == ConnDisconnected {
			suite.Empty(p.Target, "disconnected must clear the target")
		} else {
			suite.NotEmpty(p.Target, "state %s must carry a target", p.State)
		}
	}
}

// ConnSessionTestSuite provides tests for the connection half of the lifecycle
type ConnSessionTestSuite struct {
	suite.Suite
	adapter  *testutils.StubAdapter
	recorder *connRecorder
}

func (suite *ConnSessionTestSuite) SetupTest() {
	suite.adapter = testutils.NewStubAdapter()
	suite.recorder = &connRecorder{}
}

func (suite *ConnSessionTestSuite) newSession(timeout time.Duration) *ConnSession {
	return NewConnSession(suite.adapter, timeout, testutils.NewTestLogger(suite.T()), suite.recorder.callbacks())
}

// waitForConnState polls until the session reaches the expected state
func (suite *ConnSessionTestSuite) waitForConnState(c *ConnSession, expected ConnState) {
	suite.Require().Eventually(func() bool {
		state, _ := c.Current()
		return state == expected
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *ConnSessionTestSuite) TestConnect() {
	// GOAL: Verify the dial moves through connecting into connected
	//
	// TEST SCENARIO: Connect with a link that comes up → Connecting then Connected, target held
	suite.Run("EstablishesLink", func() {
		suite.adapter = testutils.NewStubAdapter().
			WithLinkScript(LinkConnecting, LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)

		state, target := c.Current()
		suite.Equal(ConnConnected, state)
		suite.Equal("aa:bb", target)

		suite.Equal([]ConnState{ConnConnecting, ConnConnected}, suite.recorder.States())
		suite.Empty(suite.recorder.Notes())
		suite.recorder.AssertTargetInvariant(suite)
	})

	suite.Run("RecordsTargetImmediately", func() {
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		state, target := c.Current()
		suite.Equal(ConnConnecting, state)
		suite.Equal("aa:bb", target)
	})

	suite.Run("RejectsEmptyDeviceID", func() {
		c := suite.newSession(time.Minute)
		defer c.Close()

		err := c.Connect(context.Background(), "")
		suite.Error(err)
		state, target := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(target)
	})

	suite.Run("RejectsWhileBusy", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.ErrorIs(c.Connect(context.Background(), "cc:dd"), ErrAlreadyConnected)

		suite.waitForConnState(c, ConnConnected)
		suite.ErrorIs(c.Connect(context.Background(), "cc:dd"), ErrAlreadyConnected)

		// The rejected dials never reached the adapter.
		calls := suite.adapter.Calls()
		suite.Equal([]string{"connect:aa:bb"}, calls)
	})
}

func (suite *ConnSessionTestSuite) TestDisconnect() {
	// GOAL: Verify disconnect settles to the rest state and is idempotent
	//
	// TEST SCENARIO: Disconnect a live link → disconnected, target cleared; repeat → no-op
	suite.Run("TearsDownLiveLink", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)

		c.Disconnect()
		state, target := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(target)
		suite.Empty(suite.recorder.Notes())
		suite.recorder.AssertTargetInvariant(suite)
	})

	suite.Run("CancelsPendingDial", func() {
		c := suite.newSession(time.Minute)

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		c.Disconnect()

		state, target := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(target)
		// An abandoned dial is not a failure: no notifications.
		suite.Empty(suite.recorder.Notes())
	})

	suite.Run("IdempotentOnDisconnected", func() {
		c := suite.newSession(time.Minute)

		c.Disconnect()
		c.Disconnect()
		state, _ := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(suite.adapter.Calls())
	})

	suite.Run("ReconnectAfterDisconnect", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)
		c.Disconnect()

		suite.Require().NoError(c.Connect(context.Background(), "cc:dd"))
		suite.waitForConnState(c, ConnConnected)
		_, target := c.Current()
		suite.Equal("cc:dd", target)
	})
}

func (suite *ConnSessionTestSuite) TestEstablishmentTimeout() {
	// GOAL: Verify a dial that never comes up fails with one timeout signal
	//
	// TEST SCENARIO: Link stays down past the deadline → Failed then Disconnected, one notification
	c := suite.newSession(40 * time.Millisecond)
	defer c.Close()

	suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
	suite.waitForConnState(c, ConnDisconnected)

	suite.Require().Eventually(func() bool {
		return len(suite.recorder.Notes()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give a duplicate every chance to appear.
	time.Sleep(120 * time.Millisecond)

	notes := suite.recorder.Notes()
	suite.Require().Len(notes, 1)
	suite.Equal(NotifyConnectionTimeout, notes[0].Type)
	suite.ErrorIs(notes[0].Err, ErrConnectTimeout)
	suite.Contains(notes[0].Err.Error(), "aa:bb")

	// The failed attempt is published with its target before the session
	// comes to rest.
	states := suite.recorder.States()
	suite.Equal([]ConnState{ConnConnecting, ConnFailed, ConnDisconnected}, states)
	suite.recorder.AssertTargetInvariant(suite)

	// The session is usable again after the failure.
	suite.Require().NoError(c.Connect(context.Background(), "cc:dd"))
	c.Disconnect()
}

func (suite *ConnSessionTestSuite) TestStaleDeadline() {
	// GOAL: Verify a deadline armed for one attempt cannot touch a later one
	//
	// TEST SCENARIO: Replay an abandoned attempt's deadline against a new dial → nothing changes
	suite.Run("WhileNextDialPending", func() {
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		firstGen := c.CurrentGen()
		c.Disconnect()

		suite.Require().NoError(c.Connect(context.Background(), "cc:dd"))

		// Fire the guard exactly as a leftover timer from the first
		// attempt would: carrying that attempt's generation.
		c.Deadline(firstGen)

		state, target := c.Current()
		suite.Equal(ConnConnecting, state)
		suite.Equal("cc:dd", target)
		suite.Empty(suite.recorder.Notes())

		c.Disconnect()
	})

	suite.Run("AfterLinkCameUp", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		firstGen := c.CurrentGen()
		suite.waitForConnState(c, ConnConnected)
		c.Disconnect()

		suite.Require().NoError(c.Connect(context.Background(), "cc:dd"))
		suite.waitForConnState(c, ConnConnected)

		c.Deadline(firstGen)

		state, target := c.Current()
		suite.Equal(ConnConnected, state)
		suite.Equal("cc:dd", target)
		suite.Empty(suite.recorder.Notes())
	})
}

func (suite *ConnSessionTestSuite) TestLinkEvents() {
	// GOAL: Verify link event mapping onto the session macro-states
	//
	// TEST SCENARIO: Deliver transient, unknown and stale link events → only real transitions move the state
	suite.Run("UnknownStateIsTransient", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)

		suite.Require().True(suite.adapter.EmitLink("aa:bb", LinkState(99)))
		state, target := c.Current()
		suite.Equal(ConnConnected, state)
		suite.Equal("aa:bb", target)
	})

	suite.Run("ConnectingEventDoesNotMove", func() {
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.Require().Eventually(func() bool {
			return suite.adapter.EmitLink("aa:bb", LinkConnecting)
		}, 2*time.Second, 5*time.Millisecond)

		state, _ := c.Current()
		suite.Equal(ConnConnecting, state)
	})

	suite.Run("ConnectedIgnoredOutsideConnecting", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)
		c.Disconnect()

		// The retained callback replays a late Connected event.
		suite.Require().True(suite.adapter.EmitLink("aa:bb", LinkConnected))
		state, target := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(target)
	})

	suite.Run("RemoteDrop", func() {
		suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
		suite.recorder = &connRecorder{}
		c := suite.newSession(time.Minute)
		defer c.Close()

		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)

		suite.Require().True(suite.adapter.EmitLink("aa:bb", LinkDisconnected))

		state, target := c.Current()
		suite.Equal(ConnDisconnected, state)
		suite.Empty(target)
		// The transition is the signal; a remote drop raises no error.
		suite.Empty(suite.recorder.Notes())
		suite.recorder.AssertTargetInvariant(suite)

		// The session accepts a fresh dial after the drop.
		suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
		suite.waitForConnState(c, ConnConnected)
	})
}

func (suite *ConnSessionTestSuite) TestAdapterFailure() {
	// GOAL: Verify dial errors surface as a connection error notification
	//
	// TEST SCENARIO: Adapter fails the dial → Failed then Disconnected, wrapped cause
	cause := errors.New("l2cap refused")
	suite.adapter = testutils.NewStubAdapter().WithConnectError(cause)
	suite.recorder = &connRecorder{}
	c := suite.newSession(time.Minute)
	defer c.Close()

	suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
	suite.waitForConnState(c, ConnDisconnected)

	suite.Require().Eventually(func() bool {
		return len(suite.recorder.Notes()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	notes := suite.recorder.Notes()
	suite.Equal(NotifyConnectionError, notes[0].Type)
	suite.ErrorIs(notes[0].Err, ErrConnectFailed)
	suite.ErrorIs(notes[0].Err, cause)

	suite.Equal([]ConnState{ConnConnecting, ConnFailed, ConnDisconnected}, suite.recorder.States())
	suite.recorder.AssertTargetInvariant(suite)
}

func (suite *ConnSessionTestSuite) TestClose() {
	// GOAL: Verify a closed session rejects new dials
	//
	// TEST SCENARIO: Close while connected → disconnected, connect fails with the disposed sentinel
	suite.adapter = testutils.NewStubAdapter().WithLinkScript(LinkConnected)
	suite.recorder = &connRecorder{}
	c := suite.newSession(time.Minute)

	suite.Require().NoError(c.Connect(context.Background(), "aa:bb"))
	suite.waitForConnState(c, ConnConnected)

	c.Close()
	state, target := c.Current()
	suite.Equal(ConnDisconnected, state)
	suite.Empty(target)

	suite.ErrorIs(c.Connect(context.Background(), "aa:bb"), ErrDisposed)
}

func TestConnSessionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnSessionTestSuite))
}
