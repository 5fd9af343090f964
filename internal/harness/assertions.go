package harness

import (
	"bytes"
	"fmt"

	"github.com/roach88/vmsync/internal/ir"
)

// AssertionError describes a failed assertion with context.
type AssertionError struct {
	Assertion Assertion
	Message   string
	Expected  string
	Actual    string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("%s assertion failed: %s", e.Assertion.Type, e.Message)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf("\n  expected: %s\n  actual:   %s", e.Expected, e.Actual)
	}
	return msg
}

func (r *run) evaluate() []*AssertionError {
	var failures []*AssertionError
	for _, a := range r.scenario.Assertions {
		if err := r.evaluateOne(a); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func (r *run) evaluateOne(a Assertion) *AssertionError {
	path, _ := ir.ParsePath(a.Path)
	fail := func(msg, expected, actual string) *AssertionError {
		return &AssertionError{Assertion: a, Message: msg, Expected: expected, Actual: actual}
	}
	count := func(what string, actual int) *AssertionError {
		if actual == a.Count {
			return nil
		}
		return fail(what+" mismatch", fmt.Sprint(a.Count), fmt.Sprint(actual))
	}

	switch a.Type {
	case AssertStateEquals:
		actual, ok := ir.Lookup(r.result.State, path)
		if !ok {
			return fail("no node at "+displayPath(a.Path), "", "")
		}
		return matchValue(a, actual)

	case AssertMirrorEquals:
		o := r.mirror.Lookup(path)
		if o == nil {
			return fail("no observable at "+displayPath(a.Path), "", "")
		}
		return matchValue(a, o.Value())

	case AssertReused, AssertChanged:
		before, okBefore := ir.Lookup(r.result.Initial, path)
		after, okAfter := ir.Lookup(r.result.State, path)
		same := okBefore && okAfter && ir.Same(before, after)
		if same != (a.Type == AssertReused) {
			return fail("node identity at "+displayPath(a.Path), identity(a.Type == AssertReused), identity(same))
		}
		return nil

	case AssertFlushCount:
		return count("flush count", r.result.Flushes)

	case AssertSeq:
		return count("seq", int(r.container.Seq()))

	case AssertJournalCount:
		snaps, err := r.store.ReadSnapshots(r.ctx, r.journal.SessionID())
		if err != nil {
			return fail(err.Error(), "", "")
		}
		return count("journal length", len(snaps))

	case AssertNotifyCount:
		return count("notifications at "+displayPath(a.Path), *r.notifies[a.Path])
	}
	return fail("unknown assertion type", "", "")
}

func matchValue(a Assertion, actual ir.Node) *AssertionError {
	expected, err := ir.FromGo(a.Value)
	if err != nil {
		return &AssertionError{Assertion: a, Message: err.Error()}
	}
	if Matches(actual, expected) {
		return nil
	}
	return &AssertionError{
		Assertion: a,
		Message:   "value mismatch at " + displayPath(a.Path),
		Expected:  render(expected),
		Actual:    render(actual),
	}
}

// Matches reports whether actual matches expected. Objects match when
// every property expected names matches (extra properties are allowed)
// and, if expected carries a type id, the ids agree. Arrays match
// element-wise with equal length. Scalars match by canonical form, so 2
// and 2.0 are equal.
func Matches(actual, expected ir.Node) bool {
	switch e := expected.(type) {
	case *ir.Object:
		o, ok := actual.(*ir.Object)
		if !ok {
			return false
		}
		if e.TypeID() != "" && e.TypeID() != o.TypeID() {
			return false
		}
		for _, k := range e.Keys() {
			ev, _ := e.Get(k)
			av, ok := o.Get(k)
			if !ok || !Matches(av, ev) {
				return false
			}
		}
		return true
	case *ir.Array:
		arr, ok := actual.(*ir.Array)
		if !ok || arr.Len() != e.Len() {
			return false
		}
		for i := 0; i < e.Len(); i++ {
			if !Matches(arr.At(i), e.At(i)) {
				return false
			}
		}
		return true
	default:
		if actual == nil {
			return false
		}
		a, errA := ir.MarshalCanonical(actual)
		b, errB := ir.MarshalCanonical(expected)
		return errA == nil && errB == nil && bytes.Equal(a, b)
	}
}

func identity(same bool) string {
	if same {
		return "same node"
	}
	return "new node"
}

func render(n ir.Node) string {
	if n == nil {
		return "<missing>"
	}
	data, err := ir.MarshalCanonical(n)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
