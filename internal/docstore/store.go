// Package docstore exposes the generic document-store interface the rest of
// the system is written against: collections of JSON documents with typed
// mutation commands, filtered queries, and change subscriptions. Mutations go
// through Apply, which commits a batch of commands atomically and checks each
// command's preconditions inside the same transaction.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrAlreadyExists      = errors.New("document already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrInvalidQuery       = errors.New("invalid query")
)

// NewID generates a document id for add-style commands.
func NewID() string {
	return uuid.NewString()
}

// Document is one stored record. Data is the decoded JSON body.
type Document struct {
	Collection string
	ID         string
	Data       map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DataTo decodes the document body into a typed value.
func (d *Document) DataTo(v interface{}) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// DataFrom encodes a typed value into a document body.
func DataFrom(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type FilterOp string

const (
	FilterEq FilterOp = "=="
)

type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Query selects documents from one collection. OrderBy may name the
// createdAt/updatedAt timestamps or any top-level field.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field required", ErrInvalidQuery)
		}
		if f.Op != FilterEq {
			return fmt.Errorf("%w: unsupported filter op %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

type ConditionOp string

const (
	CondEq     ConditionOp = "=="
	CondGTE    ConditionOp = ">="
	CondAbsent ConditionOp = "absent"
)

// Condition is a precondition evaluated against the current document state
// inside the Apply transaction. Path uses dots for nesting ("emailsSent.taxFee").
type Condition struct {
	Path  string
	Op    ConditionOp
	Value interface{}
}

// Command is a typed, validated mutation. Every write in the system is one
// of SetCommand, PatchCommand, or AddCommand; there is no ad hoc field-path
// update API.
type Command interface {
	Validate() error
	Target() (collection, id string)
}

// SetCommand writes a full document body. With Merge, existing top-level
// fields not present in Data are kept.
type SetCommand struct {
	Collection string
	ID         string
	Data       map[string]interface{}
	Merge      bool
	Conditions []Condition
}

func (c SetCommand) Validate() error {
	if c.Collection == "" || c.ID == "" {
		return fmt.Errorf("%w: set requires collection and id", ErrInvalidCommand)
	}
	if c.Data == nil {
		return fmt.Errorf("%w: set requires data", ErrInvalidCommand)
	}
	return nil
}

func (c SetCommand) Target() (string, string) { return c.Collection, c.ID }

// PatchCommand deep-merges Fields into an existing document. Nested maps
// merge recursively; any other value replaces. Fails with ErrNotFound when
// the document does not exist.
type PatchCommand struct {
	Collection string
	ID         string
	Fields     map[string]interface{}
	Conditions []Condition
}

func (c PatchCommand) Validate() error {
	if c.Collection == "" || c.ID == "" {
		return fmt.Errorf("%w: patch requires collection and id", ErrInvalidCommand)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: patch requires fields", ErrInvalidCommand)
	}
	return nil
}

func (c PatchCommand) Target() (string, string) { return c.Collection, c.ID }

// AddCommand inserts a new document. The caller allocates the id with NewID
// so the command stays a plain value. Fails when the id is already taken.
type AddCommand struct {
	Collection string
	ID         string
	Data       map[string]interface{}
}

func (c AddCommand) Validate() error {
	if c.Collection == "" || c.ID == "" {
		return fmt.Errorf("%w: add requires collection and id", ErrInvalidCommand)
	}
	if c.Data == nil {
		return fmt.Errorf("%w: add requires data", ErrInvalidCommand)
	}
	return nil
}

func (c AddCommand) Target() (string, string) { return c.Collection, c.ID }

// Subscription is a live change listener. Unsubscribe releases it; screens
// subscribe when shown and unsubscribe when hidden.
type Subscription interface {
	Unsubscribe()
}

// Store is the document-store client interface. Both the Postgres-backed
// store and the in-memory test store satisfy it.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Find(ctx context.Context, q Query) ([]*Document, error)
	Apply(ctx context.Context, cmds ...Command) error
	SubscribeDocument(ctx context.Context, collection, id string, fn func(*Document)) (Subscription, error)
	SubscribeQuery(ctx context.Context, q Query, fn func([]*Document)) (Subscription, error)
}

// lookupPath resolves a dotted path inside a document body. Numeric
// segments index into arrays. The second return is false when any path
// segment is missing or out of range.
func lookupPath(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = data
	for _, p := range parts {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// normalize round-trips a value through JSON so that typed values (uuid,
// decimal, time) and their decoded counterparts compare equal.
func normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// evaluate checks a condition against the current body (nil when the
// document does not exist yet).
func evaluate(data map[string]interface{}, c Condition) (bool, error) {
	got, present := lookupPath(data, c.Path)

	switch c.Op {
	case CondAbsent:
		return !present, nil
	case CondEq:
		if !present {
			return false, nil
		}
		// Numbers compare numerically so a balance stored as a JSON number
		// still matches a decimal-string condition.
		if haveNum, ok := toDecimal(got); ok {
			if wantNum, ok := toDecimal(c.Value); ok {
				return haveNum.Equal(wantNum), nil
			}
		}
		want, err := normalize(c.Value)
		if err != nil {
			return false, err
		}
		have, err := normalize(got)
		if err != nil {
			return false, err
		}
		return reflect.DeepEqual(want, have), nil
	case CondGTE:
		if !present {
			return false, nil
		}
		have, ok := toDecimal(got)
		if !ok {
			return false, nil
		}
		want, ok := toDecimal(c.Value)
		if !ok {
			return false, fmt.Errorf("%w: non-numeric condition value for %s", ErrInvalidCommand, c.Path)
		}
		return have.GreaterThanOrEqual(want), nil
	default:
		return false, fmt.Errorf("%w: unsupported condition op %q", ErrInvalidCommand, c.Op)
	}
}

// deepMerge merges src into dst recursively. Maps merge; everything else
// replaces.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	for k, v := range src {
		sv, srcIsMap := v.(map[string]interface{})
		dv, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dv, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}

// nextBody computes the next body for a command given the current one (nil
// when the document does not exist). It enforces conditions and existence
// rules; the caller persists the result.
func nextBody(cmd Command, current map[string]interface{}) (map[string]interface{}, error) {
	var conds []Condition
	switch c := cmd.(type) {
	case SetCommand:
		conds = c.Conditions
	case PatchCommand:
		conds = c.Conditions
	}
	for _, cond := range conds {
		ok, err := evaluate(current, cond)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrPreconditionFailed, cond.Path, cond.Op)
		}
	}

	switch c := cmd.(type) {
	case SetCommand:
		data, err := cloneBody(c.Data)
		if err != nil {
			return nil, err
		}
		if c.Merge && current != nil {
			merged, err := cloneBody(current)
			if err != nil {
				return nil, err
			}
			for k, v := range data {
				merged[k] = v
			}
			return merged, nil
		}
		return data, nil
	case PatchCommand:
		if current == nil {
			return nil, ErrNotFound
		}
		base, err := cloneBody(current)
		if err != nil {
			return nil, err
		}
		fields, err := cloneBody(c.Fields)
		if err != nil {
			return nil, err
		}
		return deepMerge(base, fields), nil
	case AddCommand:
		if current != nil {
			return nil, ErrAlreadyExists
		}
		return cloneBody(c.Data)
	default:
		return nil, fmt.Errorf("%w: unknown command type %T", ErrInvalidCommand, cmd)
	}
}

// cloneBody normalizes and deep-copies a body through JSON so stored
// documents never alias caller-owned maps and always hold plain JSON types.
func cloneBody(m map[string]interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateAll(cmds []Command) error {
	if len(cmds) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidCommand)
	}
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return err
		}
	}
	return nil
}
