package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/predicate"
	"github.com/touchhouse/touchhouse/value"
)

func TestValidateRejectsUnknownColumn(t *testing.T) {
	err := predicate.Validate(
		plan.Compare("nope", plan.OpEq, value.Uint64(1)),
		map[string]value.Type{"id": value.TypeUint64},
	)
	require.True(t, touchhouse.Is(err, touchhouse.KindSchemaViolation))
}

func TestValidateRejectsCrossTypeComparison(t *testing.T) {
	err := predicate.Validate(
		plan.Compare("id", plan.OpEq, value.String("1")),
		map[string]value.Type{"id": value.TypeUint64},
	)
	require.True(t, touchhouse.Is(err, touchhouse.KindUnsupported))
}

func TestValidateAllowsNullLiteral(t *testing.T) {
	err := predicate.Validate(
		plan.Compare("id", plan.OpEq, value.NullValue(value.TypeUint64)),
		map[string]value.Type{"id": value.TypeUint64},
	)
	require.NoError(t, err)
}

func TestEvalIntervalSkipsProvablyFalseGranule(t *testing.T) {
	intervals := map[string]predicate.Interval{
		"id": {HasMinMax: true, Min: value.Uint64(0), Max: value.Uint64(100)},
	}

	cases := []struct {
		name string
		p    *plan.Predicate
		want predicate.Decision
	}{
		{"gt above max", plan.Compare("id", plan.OpGt, value.Uint64(200)), predicate.False},
		{"lt below min", plan.Compare("id", plan.OpLt, value.Uint64(0)), predicate.False},
		{"eq outside range", plan.Compare("id", plan.OpEq, value.Uint64(500)), predicate.False},
		{"eq inside range", plan.Compare("id", plan.OpEq, value.Uint64(50)), predicate.Unknown},
		{"gte at min", plan.Compare("id", plan.OpGte, value.Uint64(0)), predicate.True},
		{
			"range intersects",
			plan.And(
				plan.Compare("id", plan.OpGte, value.Uint64(90)),
				plan.Compare("id", plan.OpLt, value.Uint64(95)),
			),
			predicate.Unknown,
		},
		{
			"range disjoint",
			plan.And(
				plan.Compare("id", plan.OpGte, value.Uint64(200)),
				plan.Compare("id", plan.OpLt, value.Uint64(300)),
			),
			predicate.False,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, predicate.EvalInterval(tc.p, intervals))
		})
	}
}

func TestEvalIntervalNonPKColumnNeverSkips(t *testing.T) {
	// A column absent from intervals (a non-PK column) must decide
	// Unknown so it never causes a granule to be skipped.
	d := predicate.EvalInterval(
		plan.Compare("payload", plan.OpEq, value.String("x")),
		map[string]predicate.Interval{},
	)
	require.Equal(t, predicate.Unknown, d)
}

func TestEvalRowThreeValuedNull(t *testing.T) {
	get := func(col string, _ int) value.Value {
		if col == "name" {
			return value.NullValue(value.TypeString)
		}
		return value.Uint64(1)
	}

	eq := plan.Compare("name", plan.OpEq, value.String("x"))
	require.Equal(t, predicate.Unknown, predicate.EvalRow(eq, 0, get))
	require.False(t, predicate.Selected(predicate.EvalRow(eq, 0, get)))

	// NOT over Unknown stays Unknown; the row is still not selected.
	require.Equal(t, predicate.Unknown, predicate.EvalRow(plan.Not(eq), 0, get))

	// OR with a true branch rescues the row despite the Null comparison.
	or := plan.Or(eq, plan.Compare("id", plan.OpEq, value.Uint64(1)))
	require.Equal(t, predicate.True, predicate.EvalRow(or, 0, get))
}

func TestEvalRowComparisons(t *testing.T) {
	get := func(_ string, _ int) value.Value { return value.Int64(5) }

	cases := []struct {
		op   plan.CompareOp
		lit  int64
		want predicate.Decision
	}{
		{plan.OpEq, 5, predicate.True},
		{plan.OpNeq, 5, predicate.False},
		{plan.OpLt, 6, predicate.True},
		{plan.OpLte, 5, predicate.True},
		{plan.OpGt, 5, predicate.False},
		{plan.OpGte, 5, predicate.True},
	}
	for _, tc := range cases {
		d := predicate.EvalRow(plan.Compare("x", tc.op, value.Int64(tc.lit)), 0, get)
		require.Equal(t, tc.want, d)
	}
}
