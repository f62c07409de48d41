package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/dataset"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	sourceFilename = "feature.star"
	maxValueDepth  = 32
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
}

// modules is the closed set of loadable modules. A feature may only load the
// ones it also lists in Feature.Imports.
var modules = map[string]starlark.StringDict{
	"math": {"math": starlarkmath.Module},
	"json": {"json": starlarkjson.Module},
}

// AvailableModules lists every module name a feature may declare.
func AvailableModules() []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func moduleName(s string) string {
	return strings.TrimSuffix(s, ".star")
}

type execution struct {
	values interface{}
	after  *dataset.Dataset
	steps  uint64
}

// execute compiles the feature in a fresh namespace and calls its entry point
// on ds. ds is owned by the call and may be mutated by the feature. The
// returned error is a *Fault, or ctx.Err() when the caller cancelled.
func execute(ctx context.Context, feature Feature, ds *dataset.Dataset, maxSteps uint64) (exec *execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithField("panic", fmt.Sprint(r)).Error("Feature interpreter panicked")
			exec, err = nil, &Fault{Kind: FaultRuntime, Message: fmt.Sprintf("interpreter failure: %v", r)}
		}
	}()

	allowed := make(map[string]bool, len(feature.Imports))
	for _, imp := range feature.Imports {
		name := moduleName(imp)
		if _, ok := modules[name]; !ok {
			return nil, &Fault{Kind: FaultCompile, Message: fmt.Sprintf("module %q is not available (available: %s)", imp, strings.Join(AvailableModules(), ", "))}
		}
		allowed[name] = true
	}

	file, err := fileOptions.Parse(sourceFilename, feature.Source, 0)
	if err != nil {
		return nil, &Fault{Kind: FaultCompile, Message: err.Error()}
	}
	entry, err := entryPoint(file)
	if err != nil {
		return nil, &Fault{Kind: FaultCompile, Message: err.Error()}
	}

	thread := &starlark.Thread{
		Name: "feature",
		Print: func(_ *starlark.Thread, msg string) {
			logger.Log.WithField("feature_output", msg).Debug("feature print")
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			name := moduleName(module)
			if !allowed[name] {
				return nil, fmt.Errorf("module %q is not permitted; declare it in the feature imports", module)
			}
			return modules[name], nil
		},
	}
	if maxSteps > 0 {
		thread.SetMaxExecutionSteps(maxSteps)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ErrTimeout.Error())
		case <-done:
		}
	}()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, sourceFilename, feature.Source, nil)
	if err != nil {
		return nil, classify(ctx, err, FaultCompile)
	}
	fn, ok := globals[entry].(*starlark.Function)
	if !ok {
		return nil, &Fault{Kind: FaultCompile, Message: fmt.Sprintf("%s is not a function", entry)}
	}
	if fn.NumParams() != 1 || fn.HasVarargs() || fn.HasKwargs() {
		return nil, &Fault{Kind: FaultCompile, Message: fmt.Sprintf("function %s must take exactly one parameter (the dataset)", entry)}
	}

	arg := toStarlarkDataset(ds)
	out, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, classify(ctx, err, FaultRuntime)
	}

	values, err := toGo(out, 0)
	if err != nil {
		return nil, &Fault{Kind: FaultResult, Message: err.Error()}
	}
	return &execution{
		values: values,
		after:  fromStarlarkDataset(arg),
		steps:  thread.ExecutionSteps(),
	}, nil
}

func classify(ctx context.Context, err error, kind FaultKind) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &Fault{Kind: FaultTimeout, Message: ErrTimeout.Error()}
		}
		return ctxErr
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &Fault{Kind: FaultRuntime, Message: evalErr.Msg, Trace: evalErr.Backtrace()}
	}
	return &Fault{Kind: kind, Message: err.Error()}
}

// entryPoint finds the single top-level function that no other top-level
// function refers to.
func entryPoint(file *syntax.File) (string, error) {
	var order []string
	defs := make(map[string]*syntax.DefStmt)
	for _, stmt := range file.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok {
			defs[def.Name.Name] = def
			order = append(order, def.Name.Name)
		}
	}
	if len(order) == 0 {
		return "", errors.New("no function defined")
	}

	referenced := make(map[string]bool)
	for name, def := range defs {
		visitIdents(def, func(id *syntax.Ident) {
			if id.Name == name {
				return
			}
			if _, isDef := defs[id.Name]; isDef {
				referenced[id.Name] = true
			}
		})
	}

	var candidates []string
	for _, name := range order {
		if !referenced[name] {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) != 1 {
		return "", fmt.Errorf("expected exactly one top-level function not called by another function, found %d (%s)",
			len(candidates), strings.Join(candidates, ", "))
	}
	return candidates[0], nil
}

// visitIdents calls visit for every identifier under n. It covers the whole
// statement set enabled by fileOptions, including while loops, which
// syntax.Walk does not handle.
func visitIdents(n syntax.Node, visit func(*syntax.Ident)) {
	walkList := func(list []syntax.Expr) {
		for _, x := range list {
			visitIdents(x, visit)
		}
	}
	walkStmts := func(list []syntax.Stmt) {
		for _, stmt := range list {
			visitIdents(stmt, visit)
		}
	}

	switch n := n.(type) {
	case nil:
	case *syntax.File:
		walkStmts(n.Stmts)
	case *syntax.DefStmt:
		walkList(n.Params)
		walkStmts(n.Body)
	case *syntax.AssignStmt:
		visitIdents(n.LHS, visit)
		visitIdents(n.RHS, visit)
	case *syntax.ExprStmt:
		visitIdents(n.X, visit)
	case *syntax.ForStmt:
		visitIdents(n.Vars, visit)
		visitIdents(n.X, visit)
		walkStmts(n.Body)
	case *syntax.WhileStmt:
		visitIdents(n.Cond, visit)
		walkStmts(n.Body)
	case *syntax.IfStmt:
		visitIdents(n.Cond, visit)
		walkStmts(n.True)
		walkStmts(n.False)
	case *syntax.LoadStmt:
		for _, id := range n.To {
			visitIdents(id, visit)
		}
	case *syntax.ReturnStmt:
		if n.Result != nil {
			visitIdents(n.Result, visit)
		}
	case *syntax.BranchStmt, *syntax.Literal:
	case *syntax.Ident:
		if n != nil {
			visit(n)
		}
	case *syntax.BinaryExpr:
		visitIdents(n.X, visit)
		visitIdents(n.Y, visit)
	case *syntax.UnaryExpr:
		if n.X != nil {
			visitIdents(n.X, visit)
		}
	case *syntax.CallExpr:
		visitIdents(n.Fn, visit)
		walkList(n.Args)
	case *syntax.Comprehension:
		visitIdents(n.Body, visit)
		for _, clause := range n.Clauses {
			visitIdents(clause, visit)
		}
	case *syntax.ForClause:
		visitIdents(n.Vars, visit)
		visitIdents(n.X, visit)
	case *syntax.IfClause:
		visitIdents(n.Cond, visit)
	case *syntax.CondExpr:
		visitIdents(n.Cond, visit)
		visitIdents(n.True, visit)
		visitIdents(n.False, visit)
	case *syntax.DictExpr:
		walkList(n.List)
	case *syntax.DictEntry:
		visitIdents(n.Key, visit)
		visitIdents(n.Value, visit)
	case *syntax.DotExpr:
		visitIdents(n.X, visit)
	case *syntax.IndexExpr:
		visitIdents(n.X, visit)
		visitIdents(n.Y, visit)
	case *syntax.SliceExpr:
		for _, x := range []syntax.Expr{n.X, n.Lo, n.Hi, n.Step} {
			if x != nil {
				visitIdents(x, visit)
			}
		}
	case *syntax.LambdaExpr:
		walkList(n.Params)
		visitIdents(n.Body, visit)
	case *syntax.ListExpr:
		walkList(n.List)
	case *syntax.TupleExpr:
		walkList(n.List)
	case *syntax.ParenExpr:
		visitIdents(n.X, visit)
	}
}

func toStarlarkDataset(ds *dataset.Dataset) *starlark.Dict {
	names := ds.Names()
	root := starlark.NewDict(len(names))
	for _, name := range names {
		t := ds.Tables[name]
		table := starlark.NewDict(len(t.Columns))
		for _, c := range t.Columns {
			elems := make([]starlark.Value, len(c.Values))
			for i, v := range c.Values {
				elems[i] = toStarlarkCell(v)
			}
			table.SetKey(starlark.String(c.Name), starlark.NewList(elems))
		}
		root.SetKey(starlark.String(name), table)
	}
	return root
}

func toStarlarkCell(v dataset.Value) starlark.Value {
	switch v.Kind {
	case dataset.KindNumber:
		// Integral values surface as ints; -0 stays a float so the round
		// trip back to a cell is bit-exact.
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1<<53 && !(v.Num == 0 && math.Signbit(v.Num)) {
			return starlark.MakeInt64(int64(v.Num))
		}
		return starlark.Float(v.Num)
	case dataset.KindString:
		return starlark.String(v.Str)
	default:
		return starlark.None
	}
}

// fromStarlarkDataset reads back whatever the feature left behind in its
// dataset argument.
func fromStarlarkDataset(root *starlark.Dict) *dataset.Dataset {
	out := &dataset.Dataset{Tables: make(map[string]*dataset.Table, root.Len())}
	for _, item := range root.Items() {
		name := keyString(item[0])
		t := &dataset.Table{Name: name}
		table, ok := item[1].(*starlark.Dict)
		if !ok {
			t.Columns = []dataset.Column{{Values: []dataset.Value{fromStarlarkCell(item[1])}}}
			out.Tables[name] = t
			continue
		}
		for _, col := range table.Items() {
			c := dataset.Column{Name: keyString(col[0])}
			if iterable, ok := col[1].(starlark.Iterable); ok {
				iter := iterable.Iterate()
				var x starlark.Value
				for iter.Next(&x) {
					c.Values = append(c.Values, fromStarlarkCell(x))
				}
				iter.Done()
			} else {
				c.Values = []dataset.Value{fromStarlarkCell(col[1])}
			}
			t.Columns = append(t.Columns, c)
		}
		out.Tables[name] = t
	}
	return out
}

func fromStarlarkCell(v starlark.Value) dataset.Value {
	switch x := v.(type) {
	case starlark.NoneType:
		return dataset.Missing()
	case starlark.String:
		return dataset.String(string(x))
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(x)
		return dataset.Number(f)
	default:
		return dataset.String(v.Type() + ":" + v.String())
	}
}

func keyString(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	return v.String()
}

// toGo converts a feature's return value into plain JSON-compatible Go
// values. Non-finite floats become nil, which the validator rejects.
func toGo(v starlark.Value, depth int) (interface{}, error) {
	if depth > maxValueDepth {
		return nil, errors.New("returned value is nested too deeply")
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case starlark.String:
		return string(x), nil
	case *starlark.Dict:
		out := make(map[string]interface{}, x.Len())
		for _, item := range x.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			val, err := toGo(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[string(key)] = val
		}
		return out, nil
	case starlark.Iterable:
		var out []interface{}
		iter := x.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			val, err := toGo(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		if out == nil {
			out = []interface{}{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported return value of type %s", v.Type())
	}
}
