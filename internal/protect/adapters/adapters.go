// Package adapters binds the known land-protection plugins to the
// protection facade. Each adapter declares the API its plugin must expose
// and the versions it has been checked against.
package adapters

import (
	"fmt"
	"reflect"

	"github.com/Masterminds/semver/v3"

	"tickbridge.ai/internal/protect"
)

// All returns one adapter per provider kind in registration order.
func All() []protect.Adapter {
	return []protect.Adapter{
		NewResidence(),
		NewDominion(),
		NewWorldGuard(),
		NewLands(),
		NewKariClaims(),
	}
}

// base is the static part every adapter shares.
type base struct {
	kind       protect.ProviderKind
	plugin     string
	constraint *semver.Constraints
}

func newBase(kind protect.ProviderKind, plugin, constraint string) base {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		panic(fmt.Sprintf("adapters: bad constraint %q for %s: %v", constraint, kind, err))
	}
	return base{kind: kind, plugin: plugin, constraint: c}
}

func (s base) Kind() protect.ProviderKind { return s.kind }

// lookup finds the plugin, checks its version and asserts its API to T.
func lookup[T any](s base, host protect.PluginHost) (T, string, error) {
	var zero T
	if host == nil {
		return zero, "", fmt.Errorf("%w: no plugin host", protect.ErrProviderUnavailable)
	}
	p, ok := host.Lookup(s.plugin)
	if !ok {
		return zero, "", fmt.Errorf("%w: plugin %s not installed", protect.ErrProviderUnavailable, s.plugin)
	}
	if !p.Enabled {
		return zero, p.Version, fmt.Errorf("%w: plugin %s is disabled", protect.ErrProviderUnavailable, s.plugin)
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return zero, p.Version, fmt.Errorf("%w: %s version %q: %v", protect.ErrIncompatible, s.plugin, p.Version, err)
	}
	if ok, reasons := s.constraint.Validate(v); !ok {
		msg := "outside " + s.constraint.String()
		if len(reasons) > 0 {
			msg = reasons[0].Error()
		}
		return zero, v.String(), fmt.Errorf("%w: %s %s: %s", protect.ErrIncompatible, s.plugin, v, msg)
	}
	api, ok := p.API.(T)
	if !ok {
		return zero, v.String(), fmt.Errorf("%w: %s API is %T", protect.ErrIncompatible, s.plugin, p.API)
	}
	return api, v.String(), nil
}

// absent reports whether a plugin result is nil, including a nil pointer
// wrapped in an interface value.
func absent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
