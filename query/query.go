// Package query defines the driver-neutral operation model. Every model
// operation issued through a handle is represented as an Operation, passed
// through the interception hooks installed by the adapter, and finally
// translated by the adapter into a driver statement.
package query

// Action identifies the operation class.
type Action string

const (
	ActionCreate     Action = "create"
	ActionCreateMany Action = "createMany"
	ActionFindFirst  Action = "findFirst"
	ActionFindMany   Action = "findMany"
	ActionFindUnique Action = "findUnique"
	ActionCount      Action = "count"
	ActionUpdate     Action = "update"
	ActionUpdateMany Action = "updateMany"
	ActionDelete     Action = "delete"
	ActionDeleteMany Action = "deleteMany"
	ActionUpsert     Action = "upsert"
)

// Where is a predicate tree. Plain keys are equality constraints on columns;
// the keys "AND" and "OR" hold []Where conjuncts and disjuncts.
type Where map[string]any

// Record is a row or document payload.
type Record map[string]any

// Operation is a single driver operation.
type Operation struct {
	Model  string
	Action Action
	Where  Where
	Data   Record   // create / update payload
	Rows   []Record // createMany payload
	Create Record   // upsert create payload
	Update Record   // upsert update payload
	Limit  int
}

// Args carries the caller-supplied parts of an operation.
type Args struct {
	Where  Where
	Data   Record
	Rows   []Record
	Create Record
	Update Record
	Limit  int
}

// Hook intercepts an operation before it reaches the driver. Hooks may
// return a rewritten copy; they must not mutate the input.
type Hook func(op *Operation) (*Operation, error)

// Result is the driver-neutral outcome of an operation.
type Result struct {
	Rows  []Record
	Count int64
}

// Clone returns a deep copy of the operation so hooks can rewrite payloads
// without mutating caller-owned maps.
func (op *Operation) Clone() *Operation {
	clone := *op
	clone.Where = CloneWhere(op.Where)
	clone.Data = CloneRecord(op.Data)
	clone.Create = CloneRecord(op.Create)
	clone.Update = CloneRecord(op.Update)
	if op.Rows != nil {
		clone.Rows = make([]Record, len(op.Rows))
		for i, r := range op.Rows {
			clone.Rows[i] = CloneRecord(r)
		}
	}
	return &clone
}

// CloneWhere deep-copies a predicate tree.
func CloneWhere(w Where) Where {
	if w == nil {
		return nil
	}
	out := make(Where, len(w))
	for k, v := range w {
		switch vv := v.(type) {
		case []Where:
			list := make([]Where, len(vv))
			for i, c := range vv {
				list[i] = CloneWhere(c)
			}
			out[k] = list
		case Where:
			out[k] = CloneWhere(vv)
		default:
			out[k] = v
		}
	}
	return out
}

// CloneRecord deep-copies a payload, descending into nested records used by
// relational writes.
func CloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		switch vv := v.(type) {
		case Record:
			out[k] = CloneRecord(vv)
		case []Record:
			list := make([]Record, len(vv))
			for i, c := range vv {
				list[i] = CloneRecord(c)
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}
