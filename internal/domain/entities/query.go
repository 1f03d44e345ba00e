package entities

// PatternMatching selects how a keys clause treats entities with more keys
// than the pattern provides.
type PatternMatching int

const (
	// FixedLen requires the entity key list to have exactly the pattern's
	// length.
	FixedLen PatternMatching = iota
	// VariableLen allows additional trailing keys beyond the pattern.
	VariableLen
)

// Clause is a query filter. The concrete types form a closed set understood
// by the query planner.
type Clause interface {
	isClause()
}

// HashedKeysClause selects entities by their exact ids.
type HashedKeysClause struct {
	IDs []string
}

// KeysClause matches on the entity key list. A nil element in Keys is a
// wildcard for that position.
type KeysClause struct {
	Keys    []*string
	Pattern PatternMatching
	Models  []string
}

// ComparisonOperator is the operator of a member clause.
type ComparisonOperator string

const (
	OpEq    ComparisonOperator = "="
	OpNeq   ComparisonOperator = "!="
	OpGt    ComparisonOperator = ">"
	OpGte   ComparisonOperator = ">="
	OpLt    ComparisonOperator = "<"
	OpLte   ComparisonOperator = "<="
	OpIn    ComparisonOperator = "IN"
	OpNotIn ComparisonOperator = "NOT IN"
)

// MemberValue is a literal compared against a member column. Exactly one
// field is set; List serves the IN operators.
type MemberValue struct {
	Primitive *Primitive
	String    *string
	List      []MemberValue
}

// MemberClause compares one member of one model against a literal.
type MemberClause struct {
	Model    string
	Member   string
	Operator ComparisonOperator
	Value    MemberValue
}

// LogicalOperator joins the subclauses of a composite clause.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// CompositeClause nests clauses under one logical operator.
type CompositeClause struct {
	Operator LogicalOperator
	Clauses  []Clause
}

func (HashedKeysClause) isClause() {}
func (KeysClause) isClause()       {}
func (MemberClause) isClause()     {}
func (CompositeClause) isClause()  {}

// OrderDirection orders a sort column.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// OrderBy sorts the page by one member of one model.
type OrderBy struct {
	Model     string
	Member    string
	Direction OrderDirection
}

// PageDirection selects which side of the cursor a page is fetched from.
type PageDirection string

const (
	PageForward  PageDirection = "forward"
	PageBackward PageDirection = "backward"
)

// Pagination is the cursor window of a query.
type Pagination struct {
	Cursor    string
	Limit     uint32
	Direction PageDirection
	OrderBy   []OrderBy
}

// Query is a full cross-model read request.
type Query struct {
	Clause       Clause
	Models       []string
	Pagination   Pagination
	NoHashedKeys bool
	Historical   bool
}

// Entity is one hydrated row of a query page.
type Entity struct {
	ID         string
	Keys       string
	EventID    string
	ExecutedAt string
	UpdatedAt  string
	Models     []Ty
}

// Page is a window of entities plus the cursor of the following window.
// NextCursor is empty on the last page.
type Page struct {
	Items      []Entity
	NextCursor string
}
