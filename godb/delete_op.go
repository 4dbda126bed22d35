package godb

type DeleteOp struct {
	file  DBFile
	child Operator
}

// NewDeleteOp constructs a delete operator that deletes the records in the
// child Operator from deleteFile.
func NewDeleteOp(deleteFile DBFile, child Operator) *DeleteOp {
	return &DeleteOp{file: deleteFile, child: child}
}

// Descriptor returns a one-column descriptor with an integer field named
// "count".
func (i *DeleteOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: "count", Ftype: IntType}}}
}

// Iterator drains the child operator, deleting every tuple it produces
// from the file passed to the constructor via DBFile.deleteTuple, then
// yields a single tuple counting how many were deleted.
func (dop *DeleteOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := dop.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	done := false
	return func() (*Tuple, error) {
		if done {
			return nil, nil
		}
		done = true

		var count int64
		for {
			t, err := childIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				break
			}
			if err := dop.file.deleteTuple(t, tid); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *dop.Descriptor(), Fields: []DBValue{IntField{Value: count}}}, nil
	}, nil
}
