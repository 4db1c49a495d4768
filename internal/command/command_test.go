package command_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/command"
)

func TestParseScenarioS6(t *testing.T) {
	c, err := command.Parse("  ACK   7 ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, alertmodel.AckCommand(7), *c)

	c, err = command.Parse("pending")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, alertmodel.PendingCommand(), *c)

	c, err = command.Parse("foo")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = command.Parse("ack abc")
	assert.ErrorIs(t, err, command.ErrInvalidCommand)
}

func TestParseAcknowledgeLongForm(t *testing.T) {
	c, err := command.Parse("acknowledge 42")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, alertmodel.AckCommand(42), *c)
}

func TestParseHelp(t *testing.T) {
	c, err := command.Parse("  HELP  ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, alertmodel.HelpCommand(), *c)
}

func TestParserRoundTrip(t *testing.T) {
	cmds := []alertmodel.Command{
		alertmodel.AckCommand(7),
		alertmodel.PendingCommand(),
		alertmodel.HelpCommand(),
	}
	for _, want := range cmds {
		text := command.Format(want)
		got, err := command.Parse(text)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	}
}

func TestParseTooManyTokens(t *testing.T) {
	c, err := command.Parse("ack 7 extra")
	require.NoError(t, err)
	assert.Nil(t, c)
}
