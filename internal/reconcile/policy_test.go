package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/beta-sketch/internal/stamp"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return v
}

func some(t *testing.T, s string) stamp.Stamp { return stamp.Some(ts(t, s)) }

func TestDecide_Scenarios(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Input
		want Strategy
	}{
		{
			name: "fresh load, no local data",
			in:   Input{ServerUpdatedAt: ts(t, "2026-01-19T12:00:00Z")},
			want: LoadServer,
		},
		{
			name: "local data but never modified",
			in:   Input{HasLocalData: true, LocalLastSynced: some(t, "2026-01-19T10:00:00Z"), ServerUpdatedAt: ts(t, "2026-01-19T12:00:00Z")},
			want: LoadServer,
		},
		{
			name: "already synced, no further edits",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T12:00:00Z"),
				LocalLastSynced:   some(t, "2026-01-19T12:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T12:00:00Z"),
			},
			want: KeepLocal,
		},
		{
			name: "offline edit after last sync, server unchanged",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T14:00:00Z"),
				LocalLastSynced:   some(t, "2026-01-19T10:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T10:00:00Z"),
			},
			want: KeepLocalUnsaved,
		},
		{
			name: "never synced, server advanced",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-18T10:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T14:00:00Z"),
			},
			want: PromptUser,
		},
		{
			name: "synced before, server advanced",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T10:00:00Z"),
				LocalLastSynced:   some(t, "2026-01-19T09:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T14:00:00Z"),
			},
			want: LoadServer,
		},
		{
			name: "local newer than server, never synced",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T15:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T14:00:00Z"),
			},
			want: KeepLocalUnsaved,
		},
		{
			name: "local equal to server, synced elsewhere",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T14:00:00Z"),
				LocalLastSynced:   some(t, "2026-01-19T09:00:00Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T14:00:00Z"),
			},
			want: KeepLocalUnsaved,
		},
		{
			name: "same instant in different zones is equal",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T13:00:00+01:00"),
				LocalLastSynced:   some(t, "2026-01-19T13:00:00+01:00"),
				ServerUpdatedAt:   ts(t, "2026-01-19T12:00:00Z"),
			},
			want: KeepLocal,
		},
		{
			name: "sub-millisecond difference is not a conflict",
			in: Input{
				HasLocalData:      true,
				LocalLastModified: some(t, "2026-01-19T12:00:00.123Z"),
				LocalLastSynced:   some(t, "2026-01-19T12:00:00.123Z"),
				ServerUpdatedAt:   ts(t, "2026-01-19T12:00:00.123456Z"),
			},
			want: KeepLocal,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Decide(tc.in), "got %s", Decide(tc.in))
		})
	}
}

// Every input yields exactly one known strategy, and the same one every time.
func TestDecide_TotalAndDeterministic(t *testing.T) {
	t.Parallel()

	base := ts(t, "2026-01-19T12:00:00Z")
	opts := []stamp.Stamp{
		stamp.None(),
		stamp.Some(base.Add(-time.Hour)),
		stamp.Some(base),
		stamp.Some(base.Add(time.Hour)),
	}
	servers := []time.Time{base.Add(-2 * time.Hour), base, base.Add(2 * time.Hour)}

	for _, has := range []bool{false, true} {
		for _, mod := range opts {
			for _, syn := range opts {
				for _, srv := range servers {
					in := Input{HasLocalData: has, LocalLastModified: mod, LocalLastSynced: syn, ServerUpdatedAt: srv}
					got := Decide(in)
					require.Contains(t, []Strategy{LoadServer, KeepLocal, KeepLocalUnsaved, PromptUser}, got)
					require.Equal(t, got, Decide(in))
				}
			}
		}
	}
}

// A newer server stamp never turns LoadServer/PromptUser back into KeepLocal.
// Server stamps older than the local sync point are skipped: a correct authority never
// reports a stamp below one it has already confirmed.
func TestDecide_ConflictMonotonicity(t *testing.T) {
	t.Parallel()

	base := ts(t, "2026-01-19T12:00:00Z")
	opts := []stamp.Stamp{stamp.None(), stamp.Some(base.Add(-time.Hour)), stamp.Some(base), stamp.Some(base.Add(time.Hour))}
	steps := []time.Duration{-3 * time.Hour, -time.Hour, 0, time.Hour, 3 * time.Hour}

	for _, mod := range opts {
		for _, syn := range opts {
			for i := range steps {
				if syn.Valid() && base.Add(steps[i]).Before(syn.Time()) {
					continue
				}
				for j := i + 1; j < len(steps); j++ {
					in1 := Input{HasLocalData: true, LocalLastModified: mod, LocalLastSynced: syn, ServerUpdatedAt: base.Add(steps[i])}
					in2 := in1
					in2.ServerUpdatedAt = base.Add(steps[j])
					s1, s2 := Decide(in1), Decide(in2)
					if s1 == LoadServer || s1 == PromptUser {
						require.NotEqual(t, KeepLocal, s2, "mod=%s syn=%s s1=%s", mod, syn, s1)
					}
				}
			}
		}
	}
}

func TestStrategy_String(t *testing.T) {
	t.Parallel()
	require.Equal(t, "LOAD_SERVER", LoadServer.String())
	require.Equal(t, "KEEP_LOCAL", KeepLocal.String())
	require.Equal(t, "KEEP_LOCAL_UNSAVED", KeepLocalUnsaved.String())
	require.Equal(t, "PROMPT_USER", PromptUser.String())
	require.Equal(t, "UNKNOWN", Strategy(0).String())
}
