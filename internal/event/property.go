package event

import (
	"fmt"
	"strconv"
)

// PropKind selects the semantic type a property enforces.
type PropKind int

const (
	// PropAny accepts every value unchanged.
	PropAny PropKind = iota
	// PropBool coerces to bool using emptiness/zero rules.
	PropBool
	// PropInt coerces numbers and numeric strings to int.
	PropInt
	// PropFloat coerces numbers and numeric strings to float64.
	PropFloat
	// PropString accepts strings only, no coercion.
	PropString
	// PropList normalizes to a fresh []any.
	PropList
	// PropComponent accepts nil or a *Component.
	PropComponent
	// PropNumArray accepts nil or a *NumArray.
	PropNumArray
)

func (k PropKind) String() string {
	switch k {
	case PropAny:
		return "any"
	case PropBool:
		return "bool"
	case PropInt:
		return "int"
	case PropFloat:
		return "float"
	case PropString:
		return "string"
	case PropList:
		return "list"
	case PropComponent:
		return "component"
	case PropNumArray:
		return "numarray"
	default:
		return "unknown"
	}
}

// Property is a class-level typed slot declaration, shared across
// instances. The validator is pure: re-validating an accepted value
// returns it unchanged.
type Property struct {
	Name     string
	Kind     PropKind
	Default  any
	Settable bool
	// Local marks a property that is never mirrored to the remote side.
	Local bool
}

// Validate coerces value per the property kind, or fails with an
// ErrValidation-wrapped error. It touches no component state, so it is
// safe to call during construction.
func (p *Property) Validate(value any) (any, error) {
	switch p.Kind {
	case PropAny:
		return value, nil
	case PropBool:
		return validateBool(value)
	case PropInt:
		return p.validateInt(value)
	case PropFloat:
		return p.validateFloat(value)
	case PropString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case PropList:
		switch v := value.(type) {
		case nil:
		case []any:
			out := make([]any, len(v))
			copy(out, v)
			return out, nil
		}
	case PropComponent:
		if value == nil {
			return (*Component)(nil), nil
		}
		if c, ok := value.(*Component); ok {
			return c, nil
		}
	case PropNumArray:
		if value == nil {
			return (*NumArray)(nil), nil
		}
		if a, ok := value.(*NumArray); ok {
			return a, nil
		}
	}
	return nil, p.reject(value)
}

func (p *Property) reject(value any) error {
	return fmt.Errorf("%w: %s property %q cannot accept %T", ErrValidation, p.Kind, p.Name, value)
}

func validateBool(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case []any:
		return len(v) > 0, nil
	case *Component:
		return v != nil, nil
	}
	return false, fmt.Errorf("%w: bool property cannot accept %T", ErrValidation, value)
}

func (p *Property) validateInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return int(n), nil
		}
	}
	return 0, p.reject(value)
}

func (p *Property) validateFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	}
	return 0, p.reject(value)
}

// defaultValue returns the declared default, validated, with containers
// copied so instances never share storage.
func (p *Property) defaultValue() (any, error) {
	if p.Default == nil {
		switch p.Kind {
		case PropBool:
			return false, nil
		case PropInt:
			return 0, nil
		case PropFloat:
			return 0.0, nil
		case PropString:
			return "", nil
		case PropList:
			return []any{}, nil
		case PropComponent:
			return (*Component)(nil), nil
		case PropNumArray:
			return (*NumArray)(nil), nil
		default:
			return nil, nil
		}
	}
	return p.Validate(p.Default)
}
