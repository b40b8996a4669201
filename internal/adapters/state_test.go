package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from   ConnState
		event  ConnEvent
		to     ConnState
		action Action
	}{
		{Disconnected, Retry, Connecting, ActionDial},
		{Connecting, DialSucceeded, Connected, ActionRead},
		{Connecting, DialFailed, Disconnected, ActionWait},
		{Connected, StreamEnded, Disconnected, ActionWait},

		{Disconnected, StreamEnded, Disconnected, ActionNone},
		{Connected, Retry, Connected, ActionNone},
		{Connecting, Retry, Connecting, ActionNone},
	}

	for _, tc := range cases {
		to, action := Transition(tc.from, tc.event)
		assert.Equal(t, tc.to, to, "%s + %d", tc.from, tc.event)
		assert.Equal(t, tc.action, action, "%s + %d", tc.from, tc.event)
	}
}

func TestTransitionNeverTerminates(t *testing.T) {
	s := Disconnected
	for i := 0; i < 100; i++ {
		var action Action
		s, action = Transition(s, Retry)
		assert.Equal(t, ActionDial, action)
		s, action = Transition(s, DialFailed)
		assert.Equal(t, ActionWait, action)
	}
	assert.Equal(t, Disconnected, s)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
