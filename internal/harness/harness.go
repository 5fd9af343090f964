package harness

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/mirror"
	"github.com/roach88/vmsync/internal/protect"
	"github.com/roach88/vmsync/internal/registry"
	"github.com/roach88/vmsync/internal/state"
	"github.com/roach88/vmsync/internal/store"
	"github.com/roach88/vmsync/internal/testutil"
)

// testMasterKey signs roundtrip steps when the scenario names no key.
var testMasterKey = []byte("vmsync-harness-fixed-master-key!")

// run holds the live objects of one scenario execution.
type run struct {
	ctx       context.Context
	scenario  *Scenario
	rootType  ir.TypeRef
	container *state.Container
	mirror    *mirror.Mirror
	sched     *state.ManualScheduler
	codec     *protect.Codec
	store     *store.Store
	journal   *store.Journal
	notifies  map[string]*int
	result    *Result
}

// Run executes a scenario and returns the trace, final snapshot and
// assertion outcome.
//
// Expectation and assertion failures are reported in Result.Errors.
// A returned error means the scenario could not be executed at all:
// descriptors failed to load, the initial state does not fit its type, or
// the journal could not be opened.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()

	reg, err := registry.Load(s.Types)
	if err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}
	rootType, err := ir.ParseTypeRef(s.Type)
	if err != nil {
		return nil, fmt.Errorf("root type: %w", err)
	}
	initial, err := ir.FromGo(s.Initial)
	if err != nil {
		return nil, fmt.Errorf("initial: %w", err)
	}
	codec, err := newCodec(reg, s.MasterKey)
	if err != nil {
		return nil, err
	}

	// In-memory journal; a single connection keeps the database alive.
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()
	journal, err := store.NewJournal(ctx, st, rootType, testutil.NewSequentialSessionGenerator())
	if err != nil {
		return nil, fmt.Errorf("start journal: %w", err)
	}

	sched := state.NewManualScheduler()
	c, err := state.New(coerce.New(reg), rootType, initial, sched, state.WithJournal(journal))
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	r := &run{
		ctx:       ctx,
		scenario:  s,
		rootType:  rootType,
		container: c,
		mirror:    mirror.New(c),
		sched:     sched,
		codec:     codec,
		store:     st,
		journal:   journal,
		notifies:  make(map[string]*int),
		result:    NewResult(),
	}
	r.result.Initial = c.State()
	c.OnStateUpdate(func(ir.Node) { r.result.Flushes++ })

	if err := r.watch(); err != nil {
		return nil, err
	}
	for i, step := range s.Flow {
		r.step(i, step)
	}
	if c.IsDirty() {
		c.DoUpdateNow()
	}
	r.result.State = c.State()

	for _, failure := range r.evaluate() {
		r.result.AddError(failure.Error())
	}
	return r.result, nil
}

func newCodec(reg *registry.Registry, masterKey string) (*protect.Codec, error) {
	master := testMasterKey
	if masterKey != "" {
		var err error
		master, err = base64.StdEncoding.DecodeString(masterKey)
		if err != nil {
			return nil, fmt.Errorf("master_key: %w", err)
		}
	}
	keys, err := protect.NewKeyRing(master)
	if err != nil {
		return nil, fmt.Errorf("master_key: %w", err)
	}
	clock := testutil.NewFakeClock(testutil.Epoch)
	return protect.New(reg, keys, protect.WithClock(clock.Now)), nil
}

// watch subscribes to every observable a notify_count assertion names.
func (r *run) watch() error {
	for _, a := range r.scenario.Assertions {
		if a.Type != AssertNotifyCount {
			continue
		}
		if _, ok := r.notifies[a.Path]; ok {
			continue
		}
		path, _ := ir.ParsePath(a.Path)
		o := r.mirror.Lookup(path)
		if o == nil {
			return fmt.Errorf("notify_count: no observable at %s", displayPath(a.Path))
		}
		count := new(int)
		o.Subscribe(func(ir.Node) { *count++ })
		r.notifies[a.Path] = count
	}
	return nil
}

func (r *run) step(i int, step FlowStep) {
	c := r.container
	event := TraceEvent{Step: i, Kind: step.kind()}
	before := c.Seq()

	var err error
	switch event.Kind {
	case KindPatch:
		var partial ir.Node
		if partial, err = ir.FromGo(step.Patch); err == nil {
			err = c.PatchState(partial)
		}
	case KindSet:
		event.Path = step.Set.Path
		err = r.set(step.Set)
	case KindFlush:
		if r.sched.Tick() > 0 {
			event.Changed = true
		}
	case KindRoundtrip:
		err = r.roundtrip()
	}

	event.Seq = c.Seq()
	if event.Kind != KindFlush {
		event.Changed = event.Seq != before
	}

	var expect ExpectClause
	if step.Expect != nil {
		expect = *step.Expect
	}
	class := classify(err)
	if err != nil && class == expect.Error {
		event.Error = class
	}
	r.result.addEvent(event)

	switch {
	case err != nil && expect.Error == "":
		r.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, event.Kind, err))
	case err == nil && expect.Error != "":
		r.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s error, got none", i, event.Kind, expect.Error))
	case err != nil && class != expect.Error:
		r.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s error, got %s: %v", i, event.Kind, expect.Error, class, err))
	}
	if expect.Changed != nil && *expect.Changed != event.Changed {
		r.result.AddError(fmt.Sprintf("flow[%d] %s: expected changed=%t, got %t", i, event.Kind, *expect.Changed, event.Changed))
	}
}

func (r *run) set(s *SetStep) error {
	path, err := ir.ParsePath(s.Path)
	if err != nil {
		return err
	}
	v, err := ir.FromGo(s.Value)
	if err != nil {
		return err
	}
	o := r.mirror.Lookup(path)
	if o == nil {
		return fmt.Errorf("no observable at %s", displayPath(s.Path))
	}
	return o.Set(v)
}

// roundtrip sends the snapshot over the wire and back: protect, encode,
// decode, verify, and patch the verified plaintext into the container.
func (r *run) roundtrip() error {
	wire, err := r.codec.Protect(r.container.State(), r.rootType)
	if err != nil {
		return err
	}
	data, err := ir.EncodeJSON(wire)
	if err != nil {
		return err
	}
	decoded, err := ir.DecodeJSON(data)
	if err != nil {
		return err
	}
	plain, err := r.codec.Unprotect(decoded, r.rootType)
	if err != nil {
		return err
	}
	return r.container.PatchState(plain)
}

// classify maps a step error to its expect-clause class.
func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case coerce.IsCoercionError(err):
		return ErrorCoercion
	case protect.IsVerificationError(err):
		return ErrorVerification
	case errors.Is(err, mirror.ErrDetached):
		return ErrorDetached
	default:
		return ErrorPath
	}
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
