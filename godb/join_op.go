package godb

import (
	"errors"
	"sort"
)

// EqualityJoin computes an equijoin of two operators' outputs via
// sort-merge, matching the style of the sibling GoDB lab's nested-loop
// join generalized to avoid its O(n*m) cost. Left and right tuples are
// materialized, sorted by their join field, then merged, so this operator
// blocks on its first Iterator() call rather than streaming.
type EqualityJoin struct {
	leftField, rightField Expr
	left, right           Operator
	maxBufferSize         int
}

// NewJoin constructs a join of leftField against rightField, which must
// agree on type.
func NewJoin(left Operator, leftField Expr, right Operator, rightField Expr, maxBufferSize int) (*EqualityJoin, error) {
	if leftField.GetExprType().Ftype != rightField.GetExprType().Ftype {
		return nil, errors.New("join fields must have matching types")
	}
	return &EqualityJoin{
		leftField:     leftField,
		rightField:    rightField,
		left:          left,
		right:         right,
		maxBufferSize: maxBufferSize,
	}, nil
}

// Descriptor returns the union of the left and right operators' fields.
func (hj *EqualityJoin) Descriptor() *TupleDesc {
	return hj.left.Descriptor().merge(hj.right.Descriptor())
}

func (hj *EqualityJoin) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	leftIter, err := hj.left.Iterator(tid)
	if err != nil {
		return nil, err
	}
	leftTuples, err := fetchAllTuples(leftIter)
	if err != nil {
		return nil, err
	}

	rightIter, err := hj.right.Iterator(tid)
	if err != nil {
		return nil, err
	}
	rightTuples, err := fetchAllTuples(rightIter)
	if err != nil {
		return nil, err
	}

	if err := sortTupleList(leftTuples, hj.leftField); err != nil {
		return nil, err
	}
	if err := sortTupleList(rightTuples, hj.rightField); err != nil {
		return nil, err
	}

	joined, err := mergeAndJoinTuples(leftTuples, rightTuples, hj.leftField, hj.rightField)
	if err != nil {
		return nil, err
	}

	i := 0
	return func() (*Tuple, error) {
		if i >= len(joined) {
			return nil, nil
		}
		t := joined[i]
		i++
		return t, nil
	}, nil
}

func fetchAllTuples(iter func() (*Tuple, error)) ([]*Tuple, error) {
	var tuples []*Tuple
	for {
		t, err := iter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			return tuples, nil
		}
		tuples = append(tuples, t)
	}
}

func sortTupleList(tuples []*Tuple, field Expr) error {
	var sortErr error
	sort.Slice(tuples, func(i, j int) bool {
		cmp, err := tuples[i].compareField(tuples[j], field)
		if err != nil {
			sortErr = err
			return false
		}
		return cmp == OrderedLessThan
	})
	return sortErr
}

func mergeAndJoinTuples(leftTuples, rightTuples []*Tuple, leftField, rightField Expr) ([]*Tuple, error) {
	var joined []*Tuple
	li, ri := 0, 0

	for li < len(leftTuples) && ri < len(rightTuples) {
		lv, err := leftField.EvalExpr(leftTuples[li])
		if err != nil {
			return nil, err
		}
		rv, err := rightField.EvalExpr(rightTuples[ri])
		if err != nil {
			return nil, err
		}
		order, err := compareFields(lv, rv)
		if err != nil {
			return nil, err
		}

		switch order {
		case OrderedEqual:
			leftEnd := findEqualRange(leftTuples, li, leftField)
			rightEnd := findEqualRange(rightTuples, ri, rightField)
			for i := li; i < leftEnd; i++ {
				for j := ri; j < rightEnd; j++ {
					joined = append(joined, joinTuples(leftTuples[i], rightTuples[j]))
				}
			}
			li, ri = leftEnd, rightEnd
		case OrderedLessThan:
			li++
		case OrderedGreaterThan:
			ri++
		}
	}

	return joined, nil
}

// findEqualRange returns the index one past the last tuple, starting at
// startIndex, whose field value equals tuples[startIndex]'s.
func findEqualRange(tuples []*Tuple, startIndex int, field Expr) int {
	end := startIndex + 1
	for end < len(tuples) {
		cmp, err := tuples[end].compareField(tuples[startIndex], field)
		if err != nil || cmp != OrderedEqual {
			break
		}
		end++
	}
	return end
}
