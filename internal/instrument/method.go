package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// Kwargs collects keyword arguments. As the final parameter of a driver
// method it makes the method accept keywords.
type Kwargs map[string]any

// MethodSpec names and documents the arguments of one driver method.
type MethodSpec struct {
	Doc string

	// Args names the ordinary parameters in order (context excluded).
	Args []string

	// Variadic names a trailing ...T parameter.
	Variadic string

	// KeywordOnly lists keys accepted through a trailing Kwargs parameter.
	KeywordOnly []string

	// VarKeyword names the Kwargs catch-all. Leaving it empty while
	// KeywordOnly is set restricts keywords to the listed names.
	VarKeyword string
}

// MethodSpecer is implemented by drivers that describe their methods.
// Keys are Go method names.
type MethodSpecer interface {
	MethodSpecs() map[string]MethodSpec
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType  = reflect.TypeOf(Kwargs(nil))

	// reserved holds Go method names that are never exposed as methods.
	reserved = func() map[string]bool {
		names := map[string]bool{"MethodSpecs": true, "ClassName": true}
		t := reflect.TypeOf((*Base)(nil))
		for i := 0; i < t.NumMethod(); i++ {
			names[t.Method(i).Name] = true
		}
		return names
	}()

	shapeCache sync.Map // reflect.Type -> *typeShape
)

// methodShape is the signature analysis of one Go method, shared by every
// instance of the driver type.
type methodShape struct {
	goName     string
	name       string
	index      int
	takesCtx   bool
	positional []reflect.Type
	variadic   reflect.Type
	kwargs     bool
	returnsVal bool
	returnsErr bool
	spec       MethodSpec
	arguments  []blueprint.Argument
	signature  string
}

type typeShape struct {
	methods map[string]*methodShape
	skipped []string
}

// Method is a driver method bound to one instance.
type Method struct {
	shape *methodShape
	fn    reflect.Value
	path  string
}

// Name returns the wire name of the method.
func (m *Method) Name() string { return m.shape.name }

// FullName returns the dotted path of the method.
func (m *Method) FullName() string { return m.path }

// Doc returns the method documentation.
func (m *Method) Doc() string { return m.shape.spec.Doc }

// Signature returns a human-readable call signature.
func (m *Method) Signature() string { return m.shape.signature }

// Arguments returns the ordered argument list with kinds.
func (m *Method) Arguments() []blueprint.Argument {
	out := make([]blueprint.Argument, len(m.shape.arguments))
	copy(out, m.shape.arguments)
	return out
}

// Methods returns the exposed methods of mod keyed by wire name, plus the
// Go names of exported methods that were skipped because their signature
// is unsupported or their name collides with a parameter or submodule.
func Methods(mod Module) (map[string]*Method, []string) {
	shape := shapeOf(mod)
	rv := reflect.ValueOf(mod)
	base := mod.FullName()

	methods := make(map[string]*Method, len(shape.methods))
	skipped := append([]string(nil), shape.skipped...)
	for name, ms := range shape.methods {
		if _, isParam := mod.Parameter(name); isParam {
			skipped = append(skipped, ms.goName)
			continue
		}
		if _, isSub := mod.Submodule(name); isSub {
			skipped = append(skipped, ms.goName)
			continue
		}
		methods[name] = &Method{shape: ms, fn: rv.Method(ms.index), path: base + "." + name}
	}
	return methods, skipped
}

// LookupMethod returns the exposed method called name.
func LookupMethod(mod Module, name string) (*Method, bool) {
	ms, ok := shapeOf(mod).methods[name]
	if !ok {
		return nil, false
	}
	if _, isParam := mod.Parameter(name); isParam {
		return nil, false
	}
	if _, isSub := mod.Submodule(name); isSub {
		return nil, false
	}
	return &Method{shape: ms, fn: reflect.ValueOf(mod).Method(ms.index), path: mod.FullName() + "." + name}, true
}

func shapeOf(mod Module) *typeShape {
	t := reflect.TypeOf(mod)
	if cached, ok := shapeCache.Load(t); ok {
		return cached.(*typeShape)
	}

	var specs map[string]MethodSpec
	if s, ok := mod.(MethodSpecer); ok {
		specs = s.MethodSpecs()
	}

	shape := &typeShape{methods: make(map[string]*methodShape)}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if reserved[m.Name] || !m.IsExported() {
			continue
		}
		ms, ok := analyse(m, specs[m.Name])
		if !ok {
			shape.skipped = append(shape.skipped, m.Name)
			continue
		}
		shape.methods[ms.name] = ms
	}

	actual, _ := shapeCache.LoadOrStore(t, shape)
	return actual.(*typeShape)
}

// analyse derives argument kinds from a method's Go signature. The
// receiver is In(0).
func analyse(m reflect.Method, spec MethodSpec) (*methodShape, bool) {
	ft := m.Type
	ms := &methodShape{goName: m.Name, name: SnakeCase(m.Name), index: m.Index, spec: spec}

	in := make([]reflect.Type, 0, ft.NumIn())
	for i := 1; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i))
	}
	if len(in) > 0 && in[0] == contextType {
		ms.takesCtx = true
		in = in[1:]
	}
	switch {
	case ft.IsVariadic():
		ms.variadic = in[len(in)-1].Elem()
		in = in[:len(in)-1]
	case len(in) > 0 && in[len(in)-1] == kwargsType:
		ms.kwargs = true
		in = in[:len(in)-1]
	}
	for _, t := range in {
		if t == contextType {
			return nil, false
		}
	}
	ms.positional = in

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			ms.returnsErr = true
		} else {
			ms.returnsVal = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}
		ms.returnsVal, ms.returnsErr = true, true
	default:
		return nil, false
	}

	ms.describe()
	return ms, true
}

// describe fills in argument names, kinds and the signature text.
func (ms *methodShape) describe() {
	var parts []string
	for i := range ms.positional {
		name := fmt.Sprintf("arg%d", i)
		if i < len(ms.spec.Args) && ms.spec.Args[i] != "" {
			name = ms.spec.Args[i]
		}
		ms.arguments = append(ms.arguments, blueprint.Argument{Name: name, Kind: blueprint.ArgPositional})
		parts = append(parts, name)
	}
	if ms.variadic != nil {
		name := ms.spec.Variadic
		if name == "" {
			name = "args"
		}
		ms.arguments = append(ms.arguments, blueprint.Argument{Name: name, Kind: blueprint.ArgVarPositional})
		parts = append(parts, "*"+name)
	}
	if ms.kwargs {
		for _, name := range ms.spec.KeywordOnly {
			ms.arguments = append(ms.arguments, blueprint.Argument{Name: name, Kind: blueprint.ArgKeywordOnly})
			parts = append(parts, name+"=...")
		}
		varKw := ms.spec.VarKeyword
		if varKw == "" && len(ms.spec.KeywordOnly) == 0 {
			varKw = "kwargs"
		}
		if varKw != "" {
			ms.spec.VarKeyword = varKw
			ms.arguments = append(ms.arguments, blueprint.Argument{Name: varKw, Kind: blueprint.ArgVarKeyword})
			parts = append(parts, "**"+varKw)
		}
	}
	ms.signature = "(" + strings.Join(parts, ", ") + ")"
}

// Invoke binds args and kwargs to the method's parameters and calls it.
//
// Binding follows the declared argument kinds: positional arguments fill
// ordinary parameters first, then the variadic tail; keywords may name an
// ordinary parameter, a keyword-only name or fall into the catch-all.
// Binding failures wrap ErrArgument. Errors returned by the driver are
// passed through unchanged.
func (m *Method) Invoke(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	ms := m.shape
	nPos := len(ms.positional)

	if len(args) > nPos && ms.variadic == nil {
		return nil, fmt.Errorf("%w: %s takes %d positional arguments but %d were given", ErrArgument, m.path, nPos, len(args))
	}

	slots := make([]any, nPos)
	filled := make([]bool, nPos)
	for i := 0; i < len(args) && i < nPos; i++ {
		slots[i], filled[i] = args[i], true
	}

	var extra Kwargs
	if ms.kwargs {
		extra = Kwargs{}
	}
	for key, val := range kwargs {
		if idx := ms.positionalIndex(key); idx >= 0 {
			if filled[idx] {
				return nil, fmt.Errorf("%w: %s got multiple values for %q", ErrArgument, m.path, key)
			}
			slots[idx], filled[idx] = val, true
			continue
		}
		if ms.kwargs && (ms.spec.VarKeyword != "" || contains(ms.spec.KeywordOnly, key)) {
			extra[key] = val
			continue
		}
		return nil, fmt.Errorf("%w: %s got an unexpected keyword %q", ErrArgument, m.path, key)
	}

	callArgs := make([]reflect.Value, 0, nPos+len(args)+2)
	if ms.takesCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		callArgs = append(callArgs, reflect.ValueOf(ctx))
	}
	for i, t := range ms.positional {
		if !filled[i] {
			return nil, fmt.Errorf("%w: %s missing argument %q", ErrArgument, m.path, ms.arguments[i].Name)
		}
		v, err := Convert(slots[i], t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %q: %w", ErrArgument, m.path, ms.arguments[i].Name, err)
		}
		callArgs = append(callArgs, v)
	}
	if ms.variadic != nil && len(args) > nPos {
		for j, a := range args[nPos:] {
			v, err := Convert(a, ms.variadic)
			if err != nil {
				return nil, fmt.Errorf("%w: %s variadic argument %d: %w", ErrArgument, m.path, j, err)
			}
			callArgs = append(callArgs, v)
		}
	}
	if ms.kwargs {
		callArgs = append(callArgs, reflect.ValueOf(extra))
	}

	out := m.fn.Call(callArgs)

	if ms.returnsErr {
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
	}
	if ms.returnsVal {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func (ms *methodShape) positionalIndex(name string) int {
	for i := range ms.positional {
		if ms.arguments[i].Name == name {
			return i
		}
	}
	return -1
}

// Convert coerces a JSON-decoded value to the Go type t.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() { //nolint:exhaustive // only nilable kinds accept nil
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv.Convert(t), nil
	}

	switch t.Kind() { //nolint:exhaustive // remaining kinds fall through to JSON
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := toInt(v)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", v, t)
		}
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := toInt(v)
		if !ok || i < 0 {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(uint64(i)) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", v, t)
		}
		out.SetUint(uint64(i))
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat(v)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.String, reflect.Bool:
		if rv.Kind() == t.Kind() {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
	case reflect.Slice:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := Convert(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case reflect.Map:
		if rv.Kind() != reflect.Map || t.Key().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := Convert(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(iter.Key().Convert(t.Key()), elem)
		}
		return out, nil
	}

	// Structs and anything else go through a JSON round trip.
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, t, err)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, t, err)
	}
	return ptr.Elem(), nil
}

// SnakeCase converts a Go identifier to the snake_case wire name used for
// methods, keeping acronyms together: "GetIDN" becomes "get_idn".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
