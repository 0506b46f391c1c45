// Package testutil provides an in-memory DynamoDB stand-in for package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is one stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Dynamo is a mutex-guarded in-memory DynamoDB. It understands the small
// expression dialect the stores emit: attribute_exists/attribute_not_exists,
// =, <, >=, joined by AND/OR, and SET clauses with if_not_exists and +/-.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string // table -> partition key attribute
	tables map[string]map[string]Item

	// FailNext, when set, is returned by the next call and then cleared.
	FailNext error

	Calls map[string]int
}

// NewDynamo creates a mock with the given tables (table name -> key attribute).
func NewDynamo(keys map[string]string) *Dynamo {
	d := &Dynamo{
		keys:   keys,
		tables: map[string]map[string]Item{},
		Calls:  map[string]int{},
	}
	for t := range keys {
		d.tables[t] = map[string]Item{}
	}
	return d
}

// Seed stores item directly, bypassing conditions.
func (d *Dynamo) Seed(table string, item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	d.tables[table][k] = copyItem(item)
}

// Raw returns a copy of the stored item, or nil.
func (d *Dynamo) Raw(table, key string) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PutItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := d.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	if !evalCondition(in.ConditionExpression, d.tables[table][k], in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	d.tables[table][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := d.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][k]
	if !evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applyUpdate(*in.UpdateExpression, next, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	d.tables[table][k] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Scan"); err != nil {
		return nil, err
	}
	table := *in.TableName
	rows, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &dyn.ScanOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, copyItem(rows[k]))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	return out, nil
}

// Query evaluates KeyConditionExpression and FilterExpression against every
// item in the table, so index queries work without modelling the index.
// Results are ordered by partition key.
func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Query"); err != nil {
		return nil, err
	}
	table := *in.TableName
	rows, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &dyn.QueryOutput{}
	for _, k := range keys {
		it := rows[k]
		if !evalCondition(in.KeyConditionExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			continue
		}
		if !evalCondition(in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			continue
		}
		out.Items = append(out.Items, copyItem(it))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	return out, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table, key string
		item       Item // nil means delete
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case ti.Put != nil:
			p := ti.Put
			k, err := d.keyOf(*p.TableName, p.Item)
			if err != nil {
				return nil, err
			}
			if !evalCondition(p.ConditionExpression, d.tables[*p.TableName][k], p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
				reasons[i].Code = strPtr("ConditionalCheckFailed")
				failed = true
				continue
			}
			writes = append(writes, write{*p.TableName, k, copyItem(p.Item)})
		case ti.Delete != nil:
			del := ti.Delete
			k, err := d.keyOf(*del.TableName, del.Key)
			if err != nil {
				return nil, err
			}
			if !evalCondition(del.ConditionExpression, d.tables[*del.TableName][k], del.ExpressionAttributeNames, del.ExpressionAttributeValues) {
				reasons[i].Code = strPtr("ConditionalCheckFailed")
				failed = true
				continue
			}
			writes = append(writes, write{*del.TableName, k, nil})
		case ti.Update != nil:
			up := ti.Update
			k, err := d.keyOf(*up.TableName, up.Key)
			if err != nil {
				return nil, err
			}
			current := d.tables[*up.TableName][k]
			if !evalCondition(up.ConditionExpression, current, up.ExpressionAttributeNames, up.ExpressionAttributeValues) {
				reasons[i].Code = strPtr("ConditionalCheckFailed")
				failed = true
				continue
			}
			next := copyItem(current)
			if next == nil {
				next = copyItem(up.Key)
			}
			if err := applyUpdate(*up.UpdateExpression, next, up.ExpressionAttributeNames, up.ExpressionAttributeValues); err != nil {
				return nil, err
			}
			writes = append(writes, write{*up.TableName, k, next})
		default:
			return nil, errors.New("unsupported transact item")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.item == nil {
			delete(d.tables[w.table], w.key)
			continue
		}
		d.tables[w.table][w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) enter(op string) error {
	d.Calls[op]++
	if d.FailNext != nil {
		err := d.FailNext
		d.FailNext = nil
		return err
	}
	return nil
}

func (d *Dynamo) keyOf(table string, item Item) (string, error) {
	keyName, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("table %s not found", table)
	}
	v, ok := item[keyName].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing key %s for table %s", keyName, table)
	}
	return v.Value, nil
}

func evalCondition(expr *string, item Item, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil || *expr == "" {
		return true
	}
	for _, alt := range strings.Split(*expr, " OR ") {
		ok := true
		for _, clause := range strings.Split(alt, " AND ") {
			if !evalClause(strings.TrimSpace(clause), item, names, values) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func evalClause(clause string, item Item, names map[string]string, values map[string]types.AttributeValue) bool {
	if arg, ok := fnArg(clause, "attribute_not_exists"); ok {
		_, exists := item[resolve(arg, names)]
		return item == nil || !exists
	}
	if arg, ok := fnArg(clause, "attribute_exists"); ok {
		_, exists := item[resolve(arg, names)]
		return item != nil && exists
	}
	for _, op := range []string{">=", "<=", "<>", "=", "<", ">"} {
		parts := strings.SplitN(clause, " "+op+" ", 2)
		if len(parts) != 2 {
			continue
		}
		if item == nil {
			return false
		}
		left, ok := item[resolve(parts[0], names)]
		if !ok {
			return false
		}
		right := values[strings.TrimSpace(parts[1])]
		return compare(left, right, op)
	}
	panic("testutil: unsupported condition clause: " + clause)
}

func compare(a, b types.AttributeValue, op string) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		c := strings.Compare(av.Value, bv.Value)
		return cmpResult(c, op)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, _ := strconv.ParseFloat(av.Value, 64)
		y, _ := strconv.ParseFloat(bv.Value, 64)
		c := 0
		if x < y {
			c = -1
		} else if x > y {
			c = 1
		}
		return cmpResult(c, op)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return false
		}
		eq := av.Value == bv.Value
		return (op == "=" && eq) || (op == "<>" && !eq)
	}
	return false
}

func cmpResult(c int, op string) bool {
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func applyUpdate(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) error {
	body, ok := strings.CutPrefix(strings.TrimSpace(expr), "SET ")
	if !ok {
		return fmt.Errorf("testutil: unsupported update expression: %s", expr)
	}
	for _, assign := range splitTopLevel(body) {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return fmt.Errorf("testutil: bad assignment: %s", assign)
		}
		target := resolve(strings.TrimSpace(lhs), names)
		v, err := evalOperand(strings.TrimSpace(rhs), item, names, values)
		if err != nil {
			return err
		}
		item[target] = v
	}
	return nil
}

func evalOperand(rhs string, item Item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if l, r, ok := strings.Cut(rhs, op); ok {
			lv, err := evalOperand(strings.TrimSpace(l), item, names, values)
			if err != nil {
				return nil, err
			}
			rv, err := evalOperand(strings.TrimSpace(r), item, names, values)
			if err != nil {
				return nil, err
			}
			ln, lok := lv.(*types.AttributeValueMemberN)
			rn, rok := rv.(*types.AttributeValueMemberN)
			if !lok || !rok {
				return nil, fmt.Errorf("testutil: arithmetic on non-number in %s", rhs)
			}
			x, _ := strconv.ParseFloat(ln.Value, 64)
			y, _ := strconv.ParseFloat(rn.Value, 64)
			if op == " - " {
				y = -y
			}
			return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}, nil
		}
	}
	if inner, ok := fnArg(rhs, "if_not_exists"); ok {
		attr, fallback, _ := strings.Cut(inner, ",")
		if v, exists := item[resolve(strings.TrimSpace(attr), names)]; exists {
			return v, nil
		}
		return evalOperand(strings.TrimSpace(fallback), item, names, values)
	}
	if strings.HasPrefix(rhs, ":") {
		v, ok := values[rhs]
		if !ok {
			return nil, fmt.Errorf("testutil: missing value %s", rhs)
		}
		return v, nil
	}
	v, ok := item[resolve(rhs, names)]
	if !ok {
		return nil, fmt.Errorf("testutil: attribute %s not set", rhs)
	}
	return v, nil
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func fnArg(s, fn string) (string, bool) {
	if !strings.HasPrefix(s, fn+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return strings.TrimSpace(s[len(fn)+1 : len(s)-1]), true
}

func resolve(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func copyItem(it Item) Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
