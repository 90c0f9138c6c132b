package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogJoinsStreamedFragments(t *testing.T) {
	t.Parallel()

	var log Log
	log.AppendDelta(RoleCoach, "Hi ")
	log.AppendDelta(RoleCoach, "Sam,\n how ")
	log.AppendDelta(RoleCoach, "are you?")
	log.CloseTurn()
	log.AddUtterance(RoleUser, "  fine   thanks ")
	log.AppendDelta(RoleCoach, "Great.")

	require.Equal(t, []Turn{
		{Role: RoleCoach, Text: "Hi Sam, how are you?"},
		{Role: RoleUser, Text: "fine thanks"},
		{Role: RoleCoach, Text: "Great."},
	}, log.Turns())
	require.Equal(t, "Coach: Hi Sam, how are you?\nUser: fine thanks\nCoach: Great.", log.String())
}

func TestLogStartsNewTurnAfterClose(t *testing.T) {
	t.Parallel()

	var log Log
	log.AppendDelta(RolePartner, "One.")
	log.CloseTurn()
	log.AppendDelta(RolePartner, "Two.")
	require.Equal(t, 2, log.Len())
}

func TestLogSpeakerChangeStartsNewTurn(t *testing.T) {
	t.Parallel()

	var log Log
	log.AppendDelta(RoleCoach, "Coach line.")
	log.AppendDelta(RolePartner, "Partner line.")
	require.Equal(t, 2, log.Len())
}

func TestLogSkipsEmptyInput(t *testing.T) {
	t.Parallel()

	var log Log
	log.AppendDelta(RoleCoach, "")
	log.AppendDelta(RoleCoach, "  \n")
	log.AddUtterance(RoleUser, "\t")
	require.Zero(t, log.Len())
	require.Empty(t, log.String())

	log.AddUtterance(RoleUser, "hello")
	log.Reset()
	require.Zero(t, log.Len())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b c", Normalize("  a\n b\t\tc "))
	require.Empty(t, Normalize(" \n "))
}
