package comparison

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hippovol/internal/models"
)

// seriesOf builds a series with subjects s0, s1, ... and the given volumes
func seriesOf(volumes ...float64) models.Series {
	s := make(models.Series, len(volumes))
	for i, v := range volumes {
		s[i] = models.Measurement{Subject: string(rune('a' + i)), Volume: v}
	}
	return s
}

func TestCompare(t *testing.T) {
	deltas, err := Compare(seriesOf(100, 200, 150), seriesOf(110, 190, 160))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, -10, 10}, deltas.Changes())
	assert.Equal(t, models.Delta{Subject: "b", Baseline: 200, FollowUp: 190, Change: -10}, deltas[1])
}

func TestCompareMatchesElementwiseDifference(t *testing.T) {
	a := seriesOf(1.5, 2.25, 3, 0, 1e6)
	b := seriesOf(2, 2, 4.75, 0, 2e6)
	deltas, err := Compare(a, b)
	require.NoError(t, err)
	for i := range a {
		assert.Equal(t, b[i].Volume-a[i].Volume, deltas[i].Change)
	}
}

func TestCompareRejectsMismatchedSizes(t *testing.T) {
	deltas, err := Compare(seriesOf(1, 2, 3), seriesOf(1, 2))
	require.ErrorIs(t, err, ErrMismatchedCohortSize)
	assert.Nil(t, deltas)
}

func TestCompareBySubject(t *testing.T) {
	baseline := models.Series{
		{Subject: "sub-01", Volume: 100},
		{Subject: "sub-02", Volume: 200},
		{Subject: "sub-03", Volume: 150},
	}
	followUp := models.Series{
		{Subject: "sub-03", Volume: 160},
		{Subject: "sub-01", Volume: 110},
		{Subject: "sub-02", Volume: 190},
	}

	deltas, err := CompareBySubject(baseline, followUp)
	require.NoError(t, err)
	want := models.ChangeSeries{
		{Subject: "sub-01", Baseline: 100, FollowUp: 110, Change: 10},
		{Subject: "sub-02", Baseline: 200, FollowUp: 190, Change: -10},
		{Subject: "sub-03", Baseline: 150, FollowUp: 160, Change: 10},
	}
	if diff := cmp.Diff(want, deltas); diff != "" {
		t.Errorf("unexpected deltas (-want +got):\n%s", diff)
	}
}

func TestCompareBySubjectFailures(t *testing.T) {
	t.Run("missing and extra subjects", func(t *testing.T) {
		baseline := models.Series{{Subject: "a"}, {Subject: "b"}}
		followUp := models.Series{{Subject: "a"}, {Subject: "c"}}
		_, err := CompareBySubject(baseline, followUp)
		require.ErrorIs(t, err, ErrMismatchedCohortSize)
		assert.Contains(t, err.Error(), "[b]")
		assert.Contains(t, err.Error(), "[c]")
	})

	t.Run("duplicate subject", func(t *testing.T) {
		baseline := models.Series{{Subject: "a"}, {Subject: "a"}}
		_, err := CompareBySubject(baseline, models.Series{{Subject: "a"}})
		require.ErrorIs(t, err, ErrMismatchedCohortSize)
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := CompareBySubject(seriesOf(1, 2, 3), seriesOf(1, 2))
		require.ErrorIs(t, err, ErrMismatchedCohortSize)
	})
}

func TestAlign(t *testing.T) {
	baseline := models.Series{{Subject: "x", Volume: 1}, {Subject: "y", Volume: 2}}
	followUp := models.Series{{Subject: "y", Volume: 5}, {Subject: "x", Volume: 3}}

	bySubject, err := Align(baseline, followUp, AlignBySubject)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, bySubject.Changes())

	byPosition, err := Align(baseline, followUp, AlignByPosition)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 1}, byPosition.Changes())
}

func TestParseAlignment(t *testing.T) {
	a, err := ParseAlignment("")
	require.NoError(t, err)
	assert.Equal(t, AlignBySubject, a)

	a, err = ParseAlignment("Position")
	require.NoError(t, err)
	assert.Equal(t, AlignByPosition, a)

	_, err = ParseAlignment("random")
	assert.Error(t, err)
}

func TestTestGroups(t *testing.T) {
	treated := []float64{10, -10, 10}
	control := []float64{1, 1, 1}

	res, err := TestGroups(treated, control)
	require.NoError(t, err)
	assert.Equal(t, Student, res.Method)
	assert.Equal(t, 4.0, res.DF)
	assert.False(t, math.IsNaN(res.Statistic) || math.IsInf(res.Statistic, 0))
	// mean diff 7/3 over sqrt(pooled 200/3 * 2/3)
	assert.InDelta(t, 0.35, res.Statistic, 1e-9)
	assert.GreaterOrEqual(t, res.PValue, 0.0)
	assert.LessOrEqual(t, res.PValue, 1.0)
	// Two-sided p for t=0.35 with 4 degrees of freedom.
	assert.InDelta(t, 0.7440, res.PValue, 1e-3)

	swapped, err := TestGroups(control, treated)
	require.NoError(t, err)
	assert.Equal(t, -res.Statistic, swapped.Statistic)
	assert.Equal(t, res.PValue, swapped.PValue)
}

func TestTwoSampleTTestKnownValues(t *testing.T) {
	a := []float64{19.1, 21.3, 20.4, 22.8, 18.9, 20.0}
	b := []float64{23.5, 24.1, 22.9, 25.6, 24.8}

	student, err := TwoSampleTTest(a, b, true)
	require.NoError(t, err)
	assert.Less(t, student.Statistic, 0.0)
	assert.Less(t, student.PValue, 0.01)

	welch, err := TwoSampleTTest(a, b, false)
	require.NoError(t, err)
	assert.Equal(t, Welch, welch.Method)
	assert.Less(t, welch.DF, 9.0)
	assert.Greater(t, welch.DF, 1.0)

	swapped, err := TwoSampleTTest(b, a, false)
	require.NoError(t, err)
	assert.Equal(t, -welch.Statistic, swapped.Statistic)
	assert.Equal(t, welch.PValue, swapped.PValue)
}

func TestTwoSampleTTestUndefined(t *testing.T) {
	t.Run("too few values", func(t *testing.T) {
		res, err := TestGroups([]float64{1}, []float64{1, 2, 3})
		require.ErrorIs(t, err, ErrInsufficientSampleSize)
		assert.True(t, math.IsNaN(res.Statistic))
		assert.True(t, math.IsNaN(res.PValue))
	})

	t.Run("zero variance", func(t *testing.T) {
		res, err := TestGroups([]float64{2, 2, 2}, []float64{5, 5})
		require.ErrorIs(t, err, ErrInsufficientSampleSize)
		assert.True(t, math.IsNaN(res.Statistic))
	})
}
