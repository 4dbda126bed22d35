package godb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedOperator replays a slice of tuples once, for tests that exercise an
// operator in isolation without a backing heap file.
type fixedOperator struct {
	desc   *TupleDesc
	tuples []*Tuple
}

func (f *fixedOperator) Descriptor() *TupleDesc { return f.desc }

func (f *fixedOperator) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	i := 0
	return func() (*Tuple, error) {
		if i >= len(f.tuples) {
			return nil, nil
		}
		t := f.tuples[i]
		i++
		return t, nil
	}, nil
}

func ageTuples(ages ...int64) *fixedOperator {
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	var tuples []*Tuple
	for _, a := range ages {
		tuples = append(tuples, &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: a}}})
	}
	return &fixedOperator{desc: desc, tuples: tuples}
}

func drain(t *testing.T, op Operator, tid TransactionID) []*Tuple {
	t.Helper()
	iter, err := op.Iterator(tid)
	require.NoError(t, err)
	var out []*Tuple
	for {
		tup, err := iter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		out = append(out, tup)
	}
	return out
}

func TestFilterKeepsMatching(t *testing.T) {
	child := ageTuples(10, 20, 30)
	field := NewFieldExpr(FieldType{Fname: "age"})
	constVal := NewConstExpr(IntField{Value: 15}, IntType)

	f, err := NewFilter(constVal, OpGt, field, child)
	require.NoError(t, err)

	out := drain(t, f, NewTID())
	require.Len(t, out, 2)
	require.Equal(t, IntField{Value: 20}, out[0].Fields[0])
	require.Equal(t, IntField{Value: 30}, out[1].Fields[0])
}

func TestLimitTruncates(t *testing.T) {
	child := ageTuples(1, 2, 3, 4)
	limit := NewLimitOp(NewConstExpr(IntField{Value: 2}, IntType), child)
	out := drain(t, limit, NewTID())
	require.Len(t, out, 2)
}

func TestProjectRenamesAndDedupes(t *testing.T) {
	child := ageTuples(1, 1, 2)
	field := NewFieldExpr(FieldType{Fname: "age"})
	proj, err := NewProjectOp([]Expr{field}, []string{"yearsOld"}, true, child)
	require.NoError(t, err)

	out := drain(t, proj, NewTID())
	require.Len(t, out, 2)
	require.Equal(t, "yearsOld", out[0].Desc.Fields[0].Fname)
}

func TestOrderByAscendingAndDescending(t *testing.T) {
	child := ageTuples(30, 10, 20)
	field := NewFieldExpr(FieldType{Fname: "age"})

	asc, err := NewOrderBy([]Expr{field}, child, []bool{true})
	require.NoError(t, err)
	out := drain(t, asc, NewTID())
	require.Equal(t, []DBValue{IntField{Value: 10}}, out[0].Fields)
	require.Equal(t, []DBValue{IntField{Value: 30}}, out[2].Fields)

	child2 := ageTuples(30, 10, 20)
	desc, err := NewOrderBy([]Expr{field}, child2, []bool{false})
	require.NoError(t, err)
	out2 := drain(t, desc, NewTID())
	require.Equal(t, []DBValue{IntField{Value: 30}}, out2[0].Fields)
}

func TestOrderByTiesDoNotPanic(t *testing.T) {
	child := ageTuples(5, 5, 5, 1)
	field := NewFieldExpr(FieldType{Fname: "age"})

	ordered, err := NewOrderBy([]Expr{field}, child, []bool{true})
	require.NoError(t, err)

	out := drain(t, ordered, NewTID())
	require.Len(t, out, 4)
	require.Equal(t, IntField{Value: 1}, out[0].Fields[0])
	for _, tup := range out[1:] {
		require.Equal(t, IntField{Value: 5}, tup.Fields[0])
	}
}

func TestAggregatorCountSumAvgMinMax(t *testing.T) {
	child := ageTuples(10, 20, 30)
	field := NewFieldExpr(FieldType{Fname: "age"})

	agg, err := NewAggregator(
		[]Expr{field, field, field, field, field},
		[]AggType{CountAggregator, SumAggregator, AvgAggregator, MinAggregator, MaxAggregator},
		[]string{"cnt", "total", "avg", "lo", "hi"},
		nil,
		child,
	)
	require.NoError(t, err)

	out := drain(t, agg, NewTID())
	require.Len(t, out, 1)
	fields := out[0].Fields
	require.Equal(t, IntField{Value: 3}, fields[0])
	require.Equal(t, IntField{Value: 60}, fields[1])
	require.Equal(t, IntField{Value: 20}, fields[2])
	require.Equal(t, IntField{Value: 10}, fields[3])
	require.Equal(t, IntField{Value: 30}, fields[4])
}

func TestAggregatorRejectsNonCountOverStrings(t *testing.T) {
	desc := &TupleDesc{Fields: []FieldType{{Fname: "name", Ftype: StringType}}}
	child := &fixedOperator{desc: desc, tuples: []*Tuple{
		{Desc: *desc, Fields: []DBValue{StringField{Value: "a"}}},
	}}
	nameField := NewFieldExpr(FieldType{Fname: "name", Ftype: StringType})

	for _, bad := range []AggType{SumAggregator, AvgAggregator, MinAggregator, MaxAggregator} {
		_, err := NewAggregator([]Expr{nameField}, []AggType{bad}, []string{"x"}, nil, child)
		require.Error(t, err)
		gerr, ok := err.(GoDBError)
		require.True(t, ok)
		assert.Equal(t, TypeMismatchError, gerr.Kind)
	}

	// COUNT over a string field is explicitly allowed.
	agg, err := NewAggregator([]Expr{nameField}, []AggType{CountAggregator}, []string{"cnt"}, nil, child)
	require.NoError(t, err)
	out := drain(t, agg, NewTID())
	require.Len(t, out, 1)
	require.Equal(t, IntField{Value: 1}, out[0].Fields[0])
}

func TestAggregatorGroupBy(t *testing.T) {
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "team", Ftype: StringType},
		{Fname: "score", Ftype: IntType},
	}}
	rows := []*Tuple{
		{Desc: *desc, Fields: []DBValue{StringField{Value: "a"}, IntField{Value: 10}}},
		{Desc: *desc, Fields: []DBValue{StringField{Value: "a"}, IntField{Value: 20}}},
		{Desc: *desc, Fields: []DBValue{StringField{Value: "b"}, IntField{Value: 5}}},
	}
	child := &fixedOperator{desc: desc, tuples: rows}

	teamField := NewFieldExpr(FieldType{Fname: "team"})
	scoreField := NewFieldExpr(FieldType{Fname: "score"})

	agg, err := NewAggregator([]Expr{scoreField}, []AggType{SumAggregator}, []string{"total"}, []Expr{teamField}, child)
	require.NoError(t, err)

	out := drain(t, agg, NewTID())
	require.Len(t, out, 2)
	totals := map[string]int64{}
	for _, tup := range out {
		team := tup.Fields[0].(StringField).Value
		total := tup.Fields[1].(IntField).Value
		totals[team] = total
	}
	require.Equal(t, int64(30), totals["a"])
	require.Equal(t, int64(5), totals["b"])
}

func TestAggregatorCountGroupByMatchesExpectedSet(t *testing.T) {
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "grp", Ftype: IntType},
		{Fname: "label", Ftype: StringType},
	}}
	rows := []*Tuple{
		{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}},
		{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "b"}}},
		{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, StringField{Value: "c"}}},
		{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "d"}}},
		{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, StringField{Value: "e"}}},
	}
	child := &fixedOperator{desc: desc, tuples: rows}

	grpField := NewFieldExpr(FieldType{Fname: "grp"})
	labelField := NewFieldExpr(FieldType{Fname: "label"})

	agg, err := NewAggregator([]Expr{labelField}, []AggType{CountAggregator}, []string{"cnt"}, []Expr{grpField}, child)
	require.NoError(t, err)

	out := drain(t, agg, NewTID())
	require.Len(t, out, 2)
	got := map[int64]int64{}
	for _, tup := range out {
		got[tup.Fields[0].(IntField).Value] = tup.Fields[1].(IntField).Value
	}
	require.Equal(t, map[int64]int64{1: 3, 2: 2}, got)
}

func TestEqualityJoin(t *testing.T) {
	leftDesc := &TupleDesc{Fields: []FieldType{{Fname: "id", Ftype: IntType, TableQualifier: "l"}}}
	rightDesc := &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType, TableQualifier: "r"},
		{Fname: "val", Ftype: StringType, TableQualifier: "r"},
	}}
	left := &fixedOperator{desc: leftDesc, tuples: []*Tuple{
		{Desc: *leftDesc, Fields: []DBValue{IntField{Value: 1}}},
		{Desc: *leftDesc, Fields: []DBValue{IntField{Value: 2}}},
	}}
	right := &fixedOperator{desc: rightDesc, tuples: []*Tuple{
		{Desc: *rightDesc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "one"}}},
		{Desc: *rightDesc, Fields: []DBValue{IntField{Value: 3}, StringField{Value: "three"}}},
	}}

	join, err := NewJoin(left, NewFieldExpr(FieldType{Fname: "id", TableQualifier: "l"}), right, NewFieldExpr(FieldType{Fname: "id", TableQualifier: "r"}), 0)
	require.NoError(t, err)

	out := drain(t, join, NewTID())
	require.Len(t, out, 1)
	require.Equal(t, IntField{Value: 1}, out[0].Fields[0])
	require.Equal(t, StringField{Value: "one"}, out[0].Fields[2])
}

func TestInsertAndDeleteOps(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	child := ageTuples(1, 2, 3)
	ins := NewInsertOp(hf, child)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	out := drain(t, ins, tid)
	require.Len(t, out, 1)
	require.Equal(t, IntField{Value: 3}, out[0].Fields[0])
	require.NoError(t, bp.TransactionComplete(tid, true))

	// Scan and delete under the same transaction: a separate scanning
	// transaction would keep its shared lock and block the delete.
	tid2 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid2))
	scanIter, err := hf.Iterator(tid2)
	require.NoError(t, err)
	var toDelete []*Tuple
	for {
		tup, err := scanIter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		toDelete = append(toDelete, tup)
	}
	require.Len(t, toDelete, 3)

	del := NewDeleteOp(hf, &fixedOperator{desc: desc, tuples: toDelete})
	delOut := drain(t, del, tid2)
	require.Len(t, delOut, 1)
	require.Equal(t, IntField{Value: 3}, delOut[0].Fields[0])
	require.NoError(t, bp.TransactionComplete(tid2, true))

	remaining, err := hf.Iterator(NewTID())
	require.NoError(t, err)
	tup, err := remaining()
	require.NoError(t, err)
	require.Nil(t, tup)
}

func TestSeqScanAliasesFields(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 7}}}, tid))
	require.NoError(t, bp.TransactionComplete(tid, true))

	scan := NewSeqScan(hf, "t")
	require.Equal(t, "t", scan.Descriptor().Fields[0].TableQualifier)

	out := drain(t, scan, NewTID())
	require.Len(t, out, 1)
	require.Equal(t, "t", out[0].Desc.Fields[0].TableQualifier)
}
