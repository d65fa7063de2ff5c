package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// Args are the arguments of one method call as the caller supplies them.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Bind maps args onto a method's declared argument list.
//
// Positional-or-keyword names are sent positionally in declaration order,
// whether the caller supplied them by position or by name. Extra positional
// values go to a variadic-positional argument; keyword-only names and, when
// declared, any other keyword go to kwargs.
//
// Returns:
//   - []any: positional arguments in declared order
//   - map[string]any: keyword arguments (nil when none)
//   - error: ErrBadArguments describing the first mismatch
func Bind(declared []blueprint.Argument, args Args) ([]any, map[string]any, error) {
	var (
		positional []string
		variadic   bool
		varKeyword bool
		keywordOK  = map[string]bool{}
	)
	for _, a := range declared {
		switch a.Kind {
		case blueprint.ArgPositional:
			positional = append(positional, a.Name)
		case blueprint.ArgVarPositional:
			variadic = true
		case blueprint.ArgKeywordOnly:
			keywordOK[a.Name] = true
		case blueprint.ArgVarKeyword:
			varKeyword = true
		}
	}

	if len(args.Positional) > len(positional) && !variadic {
		return nil, nil, fmt.Errorf("%w: takes %d positional arguments but %d were given",
			ErrBadArguments, len(positional), len(args.Positional))
	}

	out := make([]any, len(positional))
	filled := make([]bool, len(positional))
	for i := 0; i < len(args.Positional) && i < len(positional); i++ {
		out[i], filled[i] = args.Positional[i], true
	}

	var kwargs map[string]any
	for _, key := range sortedNames(args.Keyword) {
		val := args.Keyword[key]
		if i := indexOf(positional, key); i >= 0 {
			if filled[i] {
				return nil, nil, fmt.Errorf("%w: multiple values for %q", ErrBadArguments, key)
			}
			out[i], filled[i] = val, true
			continue
		}
		if !keywordOK[key] && !varKeyword {
			return nil, nil, fmt.Errorf("%w: unexpected keyword %q", ErrBadArguments, key)
		}
		if kwargs == nil {
			kwargs = make(map[string]any)
		}
		kwargs[key] = val
	}

	var missing []string
	for i, ok := range filled {
		if !ok {
			missing = append(missing, positional[i])
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing %s", ErrBadArguments, strings.Join(missing, ", "))
	}

	if len(args.Positional) > len(positional) {
		out = append(out, args.Positional[len(positional):]...)
	}
	return out, kwargs, nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func sortedNames(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
