// Package router resolves which storage locations participate in a given
// action against a given key. Routers are pure functions of static
// configuration: no I/O, no randomness. Grounded on
// original_source/incline/router.py.
package router

import "fmt"

// Action names the kind of driver call a route is being resolved for.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionSearch
	ActionIndex
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionSearch:
		return "search"
	case ActionIndex:
		return "index"
	default:
		return fmt.Sprintf("router.Action(%d)", int(a))
	}
}

// Router maps (action, kid) to the set of canonical location strings that
// must participate. A nil/empty kid is valid: most routers in this
// package ignore kid entirely and return a configuration-wide set,
// matching the original's static InclineRouter implementations.
type Router interface {
	Lookup(action Action, kid string) []string
}

// Static is a Router whose routes never depend on kid, built directly
// from pre-computed per-action location lists.
type Static struct {
	Read   []string
	Write  []string
	Search []string
	Index  []string
}

func (s Static) Lookup(action Action, _ string) []string {
	switch action {
	case ActionRead:
		return s.Read
	case ActionWrite:
		return s.Write
	case ActionSearch:
		return s.Search
	case ActionIndex:
		return s.Index
	default:
		return nil
	}
}

// location renders the canonical "<dbtype>|<region>|<name>" location
// string used throughout incline (spec.md section 3, "Ownership").
func location(dbtype, region, name string) string {
	return dbtype + "|" + region + "|" + name
}

// One builds a single-replica router: the same one location serves read,
// write, search, and index. Grounded on InclineRouterOne.
func One(dbtype, region, name string) Static {
	loc := location(dbtype, region, name)
	return Static{
		Read:   []string{loc},
		Write:  []string{loc},
		Search: []string{loc},
		Index:  []string{loc},
	}
}

// Two builds a two-replica router: every action fans out to both
// replicas, named name+"1" and name+"2". Grounded on InclineRouterTwo.
func Two(dbtype, region, name string) Static {
	loc1 := location(dbtype, region, name+"1")
	loc2 := location(dbtype, region, name+"2")
	both := []string{loc1, loc2}
	return Static{
		Read:   both,
		Write:  both,
		Search: both,
		Index:  both,
	}
}

// UnbalancedReadOne builds a two-replica write set with reads pinned to
// the first replica only, for exercising the read-atomic repair path
// against a replica that lags. Grounded on InclineRouterRead1.
func UnbalancedReadOne(dbtype, region, name string) Static {
	loc1 := location(dbtype, region, name+"1")
	loc2 := location(dbtype, region, name+"2")
	return Static{
		Read:   []string{loc1},
		Write:  []string{loc1, loc2},
		Search: []string{loc1, loc2},
	}
}

// UnbalancedReadTwo builds a two-replica write set with reads pinned to
// the second replica only. Grounded on InclineRouterRead2.
func UnbalancedReadTwo(dbtype, region, name string) Static {
	loc1 := location(dbtype, region, name+"1")
	loc2 := location(dbtype, region, name+"2")
	return Static{
		Read:   []string{loc2},
		Write:  []string{loc1, loc2},
		Search: []string{loc1, loc2},
	}
}
