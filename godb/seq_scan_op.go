package godb

// SeqScan scans every tuple of a DBFile in storage order, qualifying each
// field's name with alias so joins and filters can disambiguate fields
// from same-named columns in other tables.
type SeqScan struct {
	file  DBFile
	alias string
	desc  *TupleDesc
}

// NewSeqScan constructs a scan of f, aliased as alias.
func NewSeqScan(f DBFile, alias string) *SeqScan {
	desc := f.Descriptor().copy()
	desc.setTableAlias(alias)
	return &SeqScan{file: f, alias: alias, desc: desc}
}

func (s *SeqScan) Descriptor() *TupleDesc {
	return s.desc
}

// Iterator streams every tuple of the underlying file, re-qualifying each
// returned tuple's descriptor with this scan's alias.
func (s *SeqScan) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	fileIter, err := s.file.Iterator(tid)
	if err != nil {
		return nil, err
	}
	return func() (*Tuple, error) {
		t, err := fileIter()
		if err != nil || t == nil {
			return t, err
		}
		return &Tuple{Desc: *s.desc, Fields: t.Fields, Rid: t.Rid}, nil
	}, nil
}
