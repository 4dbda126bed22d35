package godb

import "sync/atomic"

// PageSize is the number of bytes per page. It is a package-level var, not
// a constant, because the spec allows it to be configured once before any
// file is opened (Config.PageSize in buffer_pool.go is not applied to it;
// callers assign PageSize directly); tests that want a small
// page size to exercise multi-page files set it before opening a HeapFile.
var PageSize int = 4096

// StringLength is the fixed on-disk capacity, in bytes, of a StringField.
var StringLength int = 32

// TransactionID identifies a transaction. Equality is by value. Values are
// handed out by NewTID from a process-global monotonic counter, matching
// every call site across the pack that treats NewTID() as a cheap,
// process-unique value with no further identity.
type TransactionID int32

var tidCounter int64

// NewTID returns a fresh, process-unique transaction id.
func NewTID() TransactionID {
	return TransactionID(atomic.AddInt64(&tidCounter, 1))
}

// RWPerm is the permission requested when fetching a page from the buffer
// pool: ReadPerm acquires a shared lock, WritePerm acquires an exclusive
// lock. Earlier lab code acquired only a shared lock regardless of the
// requested permission; this module honors the declared permission (see
// BufferPool.GetPage).
type RWPerm int

const (
	ReadPerm RWPerm = iota
	WritePerm
)

// DBType is the type of a tuple field.
type DBType int

const (
	IntType DBType = iota
	StringType
	UnknownType // used only while building expressions before types are known
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return "unknown"
	}
}

// FieldType names a field: its name, the table alias it was qualified with
// (may be empty), and its DBType.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the "type" of a tuple: the ordered list of its fields.
type TupleDesc struct {
	Fields []FieldType
}

// bytesPerTuple returns the fixed on-disk size of a tuple matching this
// descriptor: 4 bytes for an IntType field, 4+StringLength for a
// StringType field (a 32-bit length prefix followed by the fixed-capacity
// padded byte array), per the wire format in spec.md §6.
func (td *TupleDesc) bytesPerTuple() int {
	size := 0
	for _, f := range td.Fields {
		switch f.Ftype {
		case IntType:
			size += 4
		case StringType:
			size += 4 + StringLength
		}
	}
	return size
}

func (d1 *TupleDesc) equals(d2 *TupleDesc) bool {
	if len(d1.Fields) != len(d2.Fields) {
		return false
	}
	for i := range d1.Fields {
		if d1.Fields[i].Fname != d2.Fields[i].Fname || d1.Fields[i].Ftype != d2.Fields[i].Ftype {
			return false
		}
	}
	return true
}

func (td *TupleDesc) copy() *TupleDesc {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	return &TupleDesc{Fields: fields}
}

// setTableAlias assigns the TableQualifier of every field to alias; used
// by sequential scan to qualify field names with the table's alias.
func (td *TupleDesc) setTableAlias(alias string) {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	for i := range fields {
		fields[i].TableQualifier = alias
	}
	td.Fields = fields
}

// merge returns a TupleDesc consisting of desc's fields followed by
// desc2's fields.
func (desc *TupleDesc) merge(desc2 *TupleDesc) *TupleDesc {
	fields := make([]FieldType, 0, len(desc.Fields)+len(desc2.Fields))
	fields = append(fields, desc.Fields...)
	fields = append(fields, desc2.Fields...)
	return &TupleDesc{Fields: fields}
}

// HeaderString renders the column names of this descriptor, for test and
// CLI-adjacent debug output.
func (d *TupleDesc) HeaderString() string {
	out := ""
	for i, f := range d.Fields {
		name := f.Fname
		if f.TableQualifier != "" {
			name = f.TableQualifier + "." + name
		}
		if i > 0 {
			out += ","
		}
		out += name
	}
	return out
}

// findFieldInTd finds the index of the best match for field in desc: an
// exact TableQualifier+Fname match is preferred, an unqualified Fname
// match is accepted only if unambiguous.
func findFieldInTd(field FieldType, desc *TupleDesc) (int, error) {
	best := -1
	for i, f := range desc.Fields {
		if f.Fname != field.Fname {
			continue
		}
		if field.TableQualifier == "" {
			if best != -1 && desc.Fields[best].TableQualifier != f.TableQualifier {
				return 0, GoDBError{AmbiguousNameError, "field " + f.Fname + " is ambiguous"}
			}
			best = i
			continue
		}
		if f.TableQualifier == field.TableQualifier {
			return i, nil
		}
		if best == -1 {
			best = i
		}
	}
	if best != -1 {
		return best, nil
	}
	return -1, GoDBError{IncompatibleTypesError, "field " + field.TableQualifier + "." + field.Fname + " not found"}
}

// DBValue is an evaluated field value: IntField or StringField.
type DBValue interface {
	EvalPred(v DBValue, op BoolOp) bool
}

type IntField struct {
	Value int64
}

type StringField struct {
	Value string
}

func (f IntField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(IntField)
	if !ok {
		return false
	}
	return evalIntPred(f.Value, other.Value, op)
}

func (f StringField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(StringField)
	if !ok {
		return false
	}
	return evalStringPred(f.Value, other.Value, op)
}

func evalIntPred(a, b int64, op BoolOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}

func evalStringPred(a, b string, op BoolOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}

// recordID is the address of a tuple within whatever file stored it.
// HeapFile uses heapFileRid (page number, slot number).
type recordID interface{}

// Tuple is a schema-typed record plus its (possibly nil) record id.
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    recordID
}

func (t1 *Tuple) equals(t2 *Tuple) bool {
	if t1 == nil && t2 == nil {
		return true
	}
	if t1 == nil || t2 == nil {
		return false
	}
	if !t1.Desc.equals(&t2.Desc) || len(t1.Fields) != len(t2.Fields) {
		return false
	}
	for i := range t1.Fields {
		if t1.Fields[i] != t2.Fields[i] {
			return false
		}
	}
	return true
}

// project returns a new Tuple containing only the named fields, in order.
// An unqualified field name is accepted if unambiguous.
func (t *Tuple) project(fields []FieldType) (*Tuple, error) {
	out := &Tuple{Desc: TupleDesc{}, Fields: []DBValue{}}
	for _, field := range fields {
		idx, err := findFieldInTd(field, &t.Desc)
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, t.Fields[idx])
		out.Desc.Fields = append(out.Desc.Fields, t.Desc.Fields[idx])
	}
	return out, nil
}

// joinTuples concatenates t2's fields onto t1's, merging their descriptors.
func joinTuples(t1 *Tuple, t2 *Tuple) *Tuple {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	return &Tuple{
		Desc:   *t1.Desc.merge(&t2.Desc),
		Fields: append(append([]DBValue{}, t1.Fields...), t2.Fields...),
	}
}

// orderByState is the result of comparing two tuples by a single field
// expression: less than, equal to, or greater than.
type orderByState int

const (
	OrderedLessThan orderByState = iota
	OrderedEqual
	OrderedGreaterThan
)

// compareField evaluates field against t and t2 and reports their order.
func (t *Tuple) compareField(t2 *Tuple, field Expr) (orderByState, error) {
	v1, err := field.EvalExpr(t)
	if err != nil {
		return OrderedEqual, err
	}
	v2, err := field.EvalExpr(t2)
	if err != nil {
		return OrderedEqual, err
	}
	return compareFields(v1, v2)
}

func compareFields(val1, val2 DBValue) (orderByState, error) {
	switch v1 := val1.(type) {
	case IntField:
		v2, ok := val2.(IntField)
		if !ok {
			return OrderedEqual, GoDBError{TypeMismatchError, "cannot compare IntField to non-IntField"}
		}
		switch {
		case v1.Value < v2.Value:
			return OrderedLessThan, nil
		case v1.Value > v2.Value:
			return OrderedGreaterThan, nil
		default:
			return OrderedEqual, nil
		}
	case StringField:
		v2, ok := val2.(StringField)
		if !ok {
			return OrderedEqual, GoDBError{TypeMismatchError, "cannot compare StringField to non-StringField"}
		}
		switch {
		case v1.Value < v2.Value:
			return OrderedLessThan, nil
		case v1.Value > v2.Value:
			return OrderedGreaterThan, nil
		default:
			return OrderedEqual, nil
		}
	default:
		return OrderedEqual, GoDBError{TypeMismatchError, "unsupported field comparison"}
	}
}

// Page is the capability set the buffer pool requires of any cached page.
// HeapPage is the only variant in scope.
type Page interface {
	isDirty() bool
	setDirty(tid TransactionID, dirty bool)
	getFile() DBFile
	getBeforeImage() Page
	setBeforeImage()
}

// DBFile is the capability set a file backing a table must provide.
// HeapFile is the only variant in scope.
type DBFile interface {
	readPage(pageNo int) (Page, error)
	flushPage(p Page) error
	pageKey(pageNo int) any
	Descriptor() *TupleDesc
	insertTuple(t *Tuple, tid TransactionID) error
	deleteTuple(t *Tuple, tid TransactionID) error
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
	NumPages() int
}

// Operator is the capability set a streaming tuple source provides. None
// of these are goroutine-safe; each is a single-producer stream consumed
// by at most one transaction.
type Operator interface {
	Descriptor() *TupleDesc
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
}
