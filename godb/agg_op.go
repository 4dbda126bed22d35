package godb

import "fmt"

// AggType names which AggState constructor an aggregate field uses.
type AggType int

const (
	CountAggregator AggType = iota
	SumAggregator
	AvgAggregator
	MinAggregator
	MaxAggregator
)

func newAggState(t AggType) AggState {
	switch t {
	case CountAggregator:
		return &CountAggState{}
	case SumAggregator:
		return &SumAggState{}
	case AvgAggregator:
		return &AvgAggState{}
	case MinAggregator:
		return &MinAggState{}
	case MaxAggregator:
		return &MaxAggState{}
	default:
		return nil
	}
}

// Aggregator computes one or more aggregate expressions over its child,
// optionally grouped by a list of group-by expressions. With no group-by
// expressions it emits exactly one result tuple; with one or more, it
// emits one result tuple per distinct combination of group-by values.
type Aggregator struct {
	child      Operator
	aggFields  []Expr
	aggTypes   []AggType
	aggAliases []string
	groupBy    []Expr
	templates  []AggState
}

// NewAggregator constructs an aggregation over child: aggFields/aggTypes
// describe each aggregate column in order (aliased by aggAliases), and
// groupBy (possibly empty) names the columns the aggregation is grouped by.
func NewAggregator(aggFields []Expr, aggTypes []AggType, aggAliases []string, groupBy []Expr, child Operator) (*Aggregator, error) {
	if len(aggFields) != len(aggTypes) || len(aggFields) != len(aggAliases) {
		return nil, fmt.Errorf("aggFields, aggTypes, and aggAliases must have matching lengths")
	}
	templates := make([]AggState, len(aggFields))
	for i, field := range aggFields {
		if field.GetExprType().Ftype == StringType && aggTypes[i] != CountAggregator {
			return nil, GoDBError{TypeMismatchError, fmt.Sprintf("aggregate field %q is a string: only COUNT is supported over string fields", aggAliases[i])}
		}
		s := newAggState(aggTypes[i])
		if s == nil {
			return nil, fmt.Errorf("unknown aggregate type for field %d", i)
		}
		if err := s.Init(aggAliases[i], field); err != nil {
			return nil, err
		}
		templates[i] = s
	}
	return &Aggregator{
		child:      child,
		aggFields:  aggFields,
		aggTypes:   aggTypes,
		aggAliases: aggAliases,
		groupBy:    groupBy,
		templates:  templates,
	}, nil
}

func (a *Aggregator) Descriptor() *TupleDesc {
	desc := &TupleDesc{}
	if len(a.groupBy) > 0 {
		for _, g := range a.groupBy {
			desc.Fields = append(desc.Fields, g.GetExprType())
		}
	}
	for i := range a.aggFields {
		states := a.newStates()
		desc.Fields = append(desc.Fields, states[i].GetTupleDesc().Fields[0])
	}
	return desc
}

// newStates builds one zero-valued AggState per aggregate field for a new
// group.
func (a *Aggregator) newStates() []AggState {
	states := make([]AggState, len(a.aggFields))
	for i, tmpl := range a.templates {
		states[i] = tmpl.Copy()
	}
	return states
}

// groupKey evaluates every group-by expression against t and concatenates
// the results into a comparable string key.
func (a *Aggregator) groupKey(t *Tuple) (string, []DBValue, error) {
	key := ""
	vals := make([]DBValue, len(a.groupBy))
	for i, g := range a.groupBy {
		v, err := g.EvalExpr(t)
		if err != nil {
			return "", nil, err
		}
		vals[i] = v
		switch f := v.(type) {
		case IntField:
			key += fmt.Sprintf("|i:%d", f.Value)
		case StringField:
			key += fmt.Sprintf("|s:%s", f.Value)
		}
	}
	return key, vals, nil
}

func (a *Aggregator) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := a.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	type group struct {
		keyVals []DBValue
		states  []AggState
	}
	groups := make(map[string]*group)
	var order []string

	for {
		t, err := childIter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		key, keyVals, err := a.groupKey(t)
		if err != nil {
			return nil, err
		}
		g, ok := groups[key]
		if !ok {
			states := a.newStates()
			g = &group{keyVals: keyVals, states: states}
			groups[key] = g
			order = append(order, key)
		}
		for _, s := range g.states {
			s.AddTuple(t)
		}
	}

	// Emit one all-zero-state group when there is no group-by and no input,
	// matching SQL's COUNT(*)-of-nothing-is-zero convention.
	if len(order) == 0 && len(a.groupBy) == 0 {
		states := a.newStates()
		groups[""] = &group{states: states}
		order = append(order, "")
	}

	i := 0
	return func() (*Tuple, error) {
		if i >= len(order) {
			return nil, nil
		}
		g := groups[order[i]]
		i++

		var fields []DBValue
		fields = append(fields, g.keyVals...)
		for _, s := range g.states {
			fields = append(fields, s.Finalize().Fields...)
		}
		return &Tuple{Desc: *a.Descriptor(), Fields: fields}, nil
	}, nil
}
