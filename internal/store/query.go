package store

type Operator int

const (
	OpEq Operator = iota
	OpNotIn
	OpAll
)

// Condition constrains a single top-level document field.
type Condition struct {
	Field  string
	Op     Operator
	Values []any
}

// Filter is a conjunction of conditions. The zero value matches every
// document.
type Filter []Condition

// Eq matches documents whose field equals v. For array fields a scalar v
// matches when the array contains it.
func Eq(field string, v any) Condition {
	return Condition{Field: field, Op: OpEq, Values: []any{v}}
}

// NotIn matches documents whose field holds none of vs.
func NotIn(field string, vs ...any) Condition {
	return Condition{Field: field, Op: OpNotIn, Values: vs}
}

// All matches documents whose array field contains every value of vs.
func All(field string, vs ...any) Condition {
	return Condition{Field: field, Op: OpAll, Values: vs}
}

func Where(conds ...Condition) Filter {
	return Filter(conds)
}

// Update describes a single-document mutation. Set replaces whole fields,
// Push appends one element to an array field and Pull removes the array
// elements whose fields all equal the given match values.
type Update struct {
	Set  map[string]any
	Push map[string]any
	Pull map[string]map[string]any
}

func NewUpdate() *Update {
	return &Update{
		Set:  make(map[string]any),
		Push: make(map[string]any),
		Pull: make(map[string]map[string]any),
	}
}

func (u *Update) SetField(field string, v any) *Update {
	u.Set[field] = v
	return u
}

func (u *Update) PushField(field string, v any) *Update {
	u.Push[field] = v
	return u
}

func (u *Update) PullWhere(field string, match map[string]any) *Update {
	u.Pull[field] = match
	return u
}

func (u Update) empty() bool {
	return len(u.Set) == 0 && len(u.Push) == 0 && len(u.Pull) == 0
}
