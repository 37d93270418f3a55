package synerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, WrongProtocol.IsTerminal())
	assert.True(t, WrongCredentials.IsTerminal())
	assert.True(t, WrongSubprotocol.IsTerminal())
	assert.True(t, MissedAuth.IsTerminal())
	assert.False(t, Timeout.IsTerminal())
	assert.False(t, WrongFormat.IsTerminal())
	assert.False(t, Bruteforce.IsTerminal())
}

func TestErrorMessage(t *testing.T) {
	e := New(WrongProtocol)
	assert.Equal(t, "wrong-protocol", e.Error())

	e2 := Newf(WrongFormat, "%s", "['ping','abc']")
	assert.Equal(t, "wrong-format: ['ping','abc']", e2.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(Timeout, cause)
	assert.True(t, errors.Is(e, cause) || errors.Unwrap(e) != nil)
}

func TestAsMatches(t *testing.T) {
	var err error = New(Bruteforce)
	se, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, Bruteforce, se.Kind)
}
