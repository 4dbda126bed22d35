package godb

type InsertOp struct {
	file  DBFile
	child Operator
}

// NewInsertOp constructs an insert operator that inserts the records in the
// child Operator into insertFile.
func NewInsertOp(insertFile DBFile, child Operator) *InsertOp {
	return &InsertOp{file: insertFile, child: child}
}

// Descriptor returns a one-column descriptor with an integer field named
// "count".
func (i *InsertOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: "count", Ftype: IntType}}}
}

// Iterator drains the child operator, inserting every tuple it produces
// into the file passed to the constructor via DBFile.insertTuple, then
// yields a single tuple counting how many were inserted.
func (iop *InsertOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := iop.child.Iterator(tid)
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
			if err := iop.file.insertTuple(t, tid); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *iop.Descriptor(), Fields: []DBValue{IntField{Value: count}}}, nil
	}, nil
}
