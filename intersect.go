package lifetimes

import "github.com/pkg/errors"

// Intersect returns a lifetime that terminates as soon as any of lts does.
func Intersect(lts ...Lifetime) Lifetime {
	return DefineIntersection(lts...)
}

// DefineIntersection creates a definition attached to every lifetime in lts.
// It inherits the smallest timeout kind among them.
func DefineIntersection(lts ...Lifetime) *Definition {
	if len(lts) == 0 {
		panic(errors.New("lifetimes: one or more lifetimes must be intersected"))
	}

	res := NewDefinition()
	minKind := TimeoutExtraLong
	for _, lt := range lts {
		if k := lt.TimeoutKind(); k < minKind {
			minKind = k
		}
	}
	res.SetTimeoutKind(minKind)

	for _, lt := range lts {
		lt.definition().attach(res)
	}
	return res
}
