package godb

// BoolOp is a comparison operator used by predicates (Filter) and orderings
// (sort-merge Join, OrderBy).
type BoolOp int

const (
	OpEq BoolOp = iota
	OpNeq
	OpGt
	OpGe
	OpLt
	OpLe
)

// Expr evaluates to a DBValue given a tuple. The only expressions needed by
// this core are field extraction and constants; a real query layer would
// add arithmetic and function calls, but expression evaluation beyond
// what Filter/Aggregate/OrderBy/Join require is out of scope (no SQL
// parser feeds this layer).
type Expr interface {
	EvalExpr(t *Tuple) (DBValue, error)
	GetExprType() FieldType
}

// FieldExpr extracts a named field from a tuple.
type FieldExpr struct {
	field FieldType
}

func NewFieldExpr(field FieldType) *FieldExpr {
	return &FieldExpr{field: field}
}

func (e *FieldExpr) EvalExpr(t *Tuple) (DBValue, error) {
	idx, err := findFieldInTd(e.field, &t.Desc)
	if err != nil {
		return nil, err
	}
	return t.Fields[idx], nil
}

func (e *FieldExpr) GetExprType() FieldType {
	return e.field
}

// ConstExpr evaluates to a fixed value regardless of the input tuple.
type ConstExpr struct {
	val   DBValue
	ftype DBType
}

func NewConstExpr(val DBValue, ftype DBType) *ConstExpr {
	return &ConstExpr{val: val, ftype: ftype}
}

func (e *ConstExpr) EvalExpr(t *Tuple) (DBValue, error) {
	return e.val, nil
}

func (e *ConstExpr) GetExprType() FieldType {
	return FieldType{Fname: "", TableQualifier: "", Ftype: e.ftype}
}
