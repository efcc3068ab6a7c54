package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mkEvent(offsetSeconds int, eventType, params string) Event {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Event{
		UserName:   "alice",
		EventType:  eventType,
		Parameters: params,
		Time:       base.Add(time.Duration(offsetSeconds) * time.Second),
	}
}

func TestDerivePhaseMapping(t *testing.T) {
	cases := []struct {
		eventType, params, want string
	}{
		{"MODE", "Projects", PhaseProject},
		{"MODE", "Edit", PhaseCoding},
		{"MODE", "Design", PhasePrototyping},
		{"MODE", "Debug", PhaseTesting},
		{"SCM_COMMIT", "", PhaseDeployment},
		{"SAVE", "foo.cpp", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Derive(tc.eventType, tc.params))
	}
}

func TestEmptyPhasesPassThrough(t *testing.T) {
	events := []Event{mkEvent(0, "SAVE", "a"), mkEvent(5, "SAVE", "b")}
	got := Cluster(events, 50, nil)
	require.Equal(t, events, got)
}

func TestClusterScenarioFromSpec(t *testing.T) {
	events := []Event{
		mkEvent(0, "MODE", "Edit"),
		mkEvent(10, "MODE", "Edit"),
		mkEvent(20, "MODE", "Edit"),
	}
	got := Cluster(events, 50, []string{PhaseCoding})
	require.Len(t, got, 1)
	require.Equal(t, 10, int(got[0].Time.Sub(events[0].Time).Seconds()))
}

func TestFuzziness100IncludesFullSpan(t *testing.T) {
	events := []Event{
		mkEvent(0, "MODE", "Edit"),
		mkEvent(10, "MODE", "Edit"),
		mkEvent(20, "MODE", "Edit"),
		mkEvent(1000, "SAVE", "unrelated"),
	}
	got := Cluster(events, 100, []string{PhaseCoding})
	require.Len(t, got, 3)
}

func TestClusterIgnoresUnrequestedPhases(t *testing.T) {
	events := []Event{
		mkEvent(0, "MODE", "Edit"),
		mkEvent(10, "MODE", "Edit"),
		mkEvent(100, "SCM_COMMIT", ""),
	}
	got := Cluster(events, 100, []string{PhaseDeployment})
	require.Len(t, got, 1)
	require.Equal(t, "SCM_COMMIT", got[0].EventType)
}
