package expr

import (
	"fmt"
	"reflect"

	"github.com/petrijr/conductor/pkg/api"
)

func (n *literal) eval(map[string]any) (any, error) { return n.v, nil }

func (n *path) eval(ctx map[string]any) (any, error) {
	if n.src == "$" {
		return ctx, nil
	}
	res := n.x.Get(ctx)
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, n.src)
	}
	return res[0], nil
}

func (n *not) eval(ctx map[string]any) (any, error) {
	v, err := n.x.eval(ctx)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n *binary) eval(ctx map[string]any) (any, error) {
	l, err := n.l.eval(ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "&&":
		if !Truthy(l) {
			return false, nil
		}
		r, err := n.r.eval(ctx)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "||":
		if Truthy(l) {
			return true, nil
		}
		r, err := n.r.eval(ctx)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	r, err := n.r.eval(ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	}

	c, err := compare(l, r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func (n *call) eval(ctx map[string]any) (any, error) {
	args := make([]any, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	switch n.name {
	case "succeeded", "failed", "completed":
		if len(args) != 0 {
			return nil, fmt.Errorf("%s() takes no arguments", n.name)
		}
		st, err := currentStatus(ctx)
		if err != nil {
			return nil, err
		}
		switch n.name {
		case "succeeded":
			return st == api.StatusSucceeded, nil
		case "failed":
			return st == api.StatusFailed, nil
		default:
			return st.IsCompleted(), nil
		}
	case "result":
		cur, err := currentTask(ctx)
		if err != nil {
			return nil, err
		}
		return cur["result"], nil
	case "item":
		it, ok := ctx[CurrentItemKey]
		if !ok {
			return nil, fmt.Errorf("item() used outside of a with-items task")
		}
		if len(args) == 0 {
			return it, nil
		}
		key, ok := args[0].(string)
		m, isMap := it.(map[string]any)
		if !ok || !isMap {
			return nil, fmt.Errorf("item(%v) requires a map item and a string key", args[0])
		}
		v, found := m[key]
		if !found {
			return nil, fmt.Errorf("%w: item %q", ErrNotFound, key)
		}
		return v, nil
	case "ctx":
		if len(args) != 1 {
			return nil, fmt.Errorf("ctx() takes exactly one argument")
		}
		key, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("ctx() requires a string argument")
		}
		v, found := ctx[key]
		if !found {
			return nil, fmt.Errorf("%w: ctx(%q)", ErrNotFound, key)
		}
		return v, nil
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("len() takes exactly one argument")
		}
		rv := reflect.ValueOf(args[0])
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			return int64(rv.Len()), nil
		}
		return nil, fmt.Errorf("len() of %T", args[0])
	}
	return nil, fmt.Errorf("unknown function %s()", n.name)
}

func currentTask(ctx map[string]any) (map[string]any, error) {
	cur, ok := ctx[CurrentTaskKey].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("no current task in context")
	}
	return cur, nil
}

func currentStatus(ctx map[string]any) (api.Status, error) {
	cur, err := currentTask(ctx)
	if err != nil {
		return "", err
	}
	switch st := cur["status"].(type) {
	case api.Status:
		return st, nil
	case string:
		return api.Status(st), nil
	}
	return "", fmt.Errorf("current task has no status")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if sa, ok := a.(api.Status); ok {
		a = string(sa)
	}
	if sb, ok := b.(api.Status); ok {
		b = string(sb)
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}
