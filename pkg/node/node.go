// Package node implements the graph vertex: ports, registered properties
// with access-guarded resolvers, and action handlers with configurable
// forwarding policies. A Node never references its neighbours directly —
// the owning graph (pkg/graph) drives property propagation and action
// routing across edges, calling back into exported Node methods.
package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/property"
)

// PortDirection distinguishes which side of a node a port belongs to.
type PortDirection uint8

const (
	InputPort PortDirection = iota
	OutputPort
)

func (d PortDirection) Invert() PortDirection {
	if d == InputPort {
		return OutputPort
	}
	return InputPort
}

// ForwardingPolicy controls how a property write or an action arriving on
// one port fans out to a node's other ports.
type ForwardingPolicy uint8

const (
	OneToOne ForwardingPolicy = iota
	OneToFan
	OneToAllIn
	OneToAllOut
	OneToAll
	Drop
)

// ResolverFunc reads and writes properties on the owning node via the
// Accessor passed to it. It must only write keys in its declared outputs
// and must leave every property on the node internally consistent when it
// returns.
type ResolverFunc func(acc Accessor) error

// Accessor is the narrow interface a ResolverFunc or ActionHandler uses to
// touch its owning node's properties and post actions, so neither needs a
// full *Node reference (and so the access guard can intercept every call).
type Accessor interface {
	Get(key property.Key) (property.Value, error)
	Set(key property.Key, v property.Value) error
	PostAction(srcPort int, dir PortDirection, action Action) error
}

// Resolver is the (inputs, outputs, fn) triple from spec §3.
type Resolver struct {
	Inputs  []property.Key
	Outputs []property.Key
	Fn      ResolverFunc
}

func (r *Resolver) touchesDirty(n *Node) bool {
	for _, k := range r.Inputs {
		if p, ok := n.properties[k]; ok && (p.Dirty || p.AlwaysDirty) {
			return true
		}
	}
	return false
}

// ActionHandler processes an Action that arrived on incoming. It may call
// Accessor.PostAction to emit further actions, including after mutating the
// action's payload (the "transform hook" in spec §4.4).
type ActionHandler func(acc Accessor, incoming EdgeSide, action Action) error

// EdgeSide describes which port (and direction) an action or property
// arrived on, from the perspective of the node receiving it.
type EdgeSide struct {
	Port int
	Dir  PortDirection
}

// Action is the routed unit of the action system. ID is assigned by the
// graph's router and is monotonically unique across the graph's lifetime.
type Action struct {
	ID      uint64
	Key     string
	Payload any
}

// Router is implemented by the owning graph. A Node never routes an action
// itself — it only ever asks its router to do so.
type Router interface {
	Route(n *Node, srcPort int, dir PortDirection, action Action) error
}

// TopologyChecker reports whether a node tolerates a given connection
// pattern, e.g. a streamer that requires every port connected.
type TopologyChecker func(connectedInputs, connectedOutputs []bool) bool

// Node is one vertex of the computation graph.
type Node struct {
	id          string
	numInputs   int
	numOutputs  int
	router      Router
	topologyFn  TopologyChecker

	mu                     sync.RWMutex
	properties             map[property.Key]*property.Property
	resolvers              []*Resolver
	propForwardingPolicy   map[string]ForwardingPolicy // "" key = default
	actionForwardingPolicy map[string]ForwardingPolicy
	actionHandlers         map[string]ActionHandler

	// resolving, when non-nil, is the output set of the resolver currently
	// executing on this node — the access guard's enforcement state.
	resolving map[property.Key]bool
}

// New constructs a node with a fixed number of input/output ports.
func New(id string, numInputs, numOutputs int) *Node {
	return &Node{
		id:                     id,
		numInputs:              numInputs,
		numOutputs:             numOutputs,
		properties:             make(map[property.Key]*property.Property),
		propForwardingPolicy:   make(map[string]ForwardingPolicy),
		actionForwardingPolicy: make(map[string]ForwardingPolicy),
		actionHandlers:         make(map[string]ActionHandler),
	}
}

func (n *Node) ID() string          { return n.id }
func (n *Node) NumInputPorts() int  { return n.numInputs }
func (n *Node) NumOutputPorts() int { return n.numOutputs }

// SetRouter installs the graph that will route this node's posted actions.
// Called once by the graph when the node is added.
func (n *Node) SetRouter(r Router) { n.router = r }

// SetTopologyChecker installs the node's check_topology hook.
func (n *Node) SetTopologyChecker(fn TopologyChecker) { n.topologyFn = fn }

// CheckTopology reports whether this node tolerates the given connection
// pattern. Nodes with no installed checker tolerate any pattern.
func (n *Node) CheckTopology(connectedInputs, connectedOutputs []bool) bool {
	if n.topologyFn == nil {
		return true
	}
	return n.topologyFn(connectedInputs, connectedOutputs)
}

// SetPropForwardingPolicy sets the forwarding policy for a property id, or
// the node's default policy when id is "".
func (n *Node) SetPropForwardingPolicy(policy ForwardingPolicy, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.propForwardingPolicy[id] = policy
}

// SetActionForwardingPolicy sets the forwarding policy for an action key, or
// the node's default policy when key is "".
func (n *Node) SetActionForwardingPolicy(policy ForwardingPolicy, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actionForwardingPolicy[key] = policy
}

func (n *Node) propPolicy(id string) ForwardingPolicy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.propForwardingPolicy[id]; ok {
		return p
	}
	if p, ok := n.propForwardingPolicy[""]; ok {
		return p
	}
	return OneToOne
}

func (n *Node) actionPolicy(key string) ForwardingPolicy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.actionForwardingPolicy[key]; ok {
		return p
	}
	if p, ok := n.actionForwardingPolicy[""]; ok {
		return p
	}
	return OneToOne
}

// RegisterProperty registers a new property on this node. Returns a
// lookup_error-shaped error if (id, source) is already present.
func (n *Node) RegisterProperty(p *property.Property) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.properties[p.Key]; exists {
		return chdrerr.New("register_property").On("property", p.Key.String()).
			Lookup(fmt.Errorf("property already registered"))
	}
	n.properties[p.Key] = p
	return nil
}

// AddResolver registers a resolver. Fails lookup_error if any referenced
// property is not registered.
func (n *Node) AddResolver(inputs, outputs []property.Key, fn ResolverFunc) (*Resolver, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range append(append([]property.Key{}, inputs...), outputs...) {
		if _, ok := n.properties[k]; !ok {
			return nil, chdrerr.New("add_resolver").On("property", k.String()).
				Lookup(fmt.Errorf("property not registered"))
		}
	}
	r := &Resolver{Inputs: inputs, Outputs: outputs, Fn: fn}
	n.resolvers = append(n.resolvers, r)
	return r, nil
}

// Get implements Accessor, and is also the entry point graph uses to read
// node properties during forward_edge_props.
func (n *Node) Get(key property.Key) (property.Value, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.properties[key]
	if !ok {
		return property.Value{}, chdrerr.New("get_property").On("property", key.String()).
			Lookup(fmt.Errorf("property not registered"))
	}
	// Reads are always allowed, including during resolution: the access
	// guard only restricts writes to a resolver's declared output set.
	return p.Value, nil
}

// Set writes a property's value. Outside resolution this is a plain user
// write; during resolution the access guard restricts writes to the
// currently-running resolver's declared output set.
func (n *Node) Set(key property.Key, v property.Value) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.properties[key]
	if !ok {
		return chdrerr.New("set_property").On("property", key.String()).
			Lookup(fmt.Errorf("property not registered"))
	}
	if n.resolving != nil && !n.resolving[key] {
		return chdrerr.New("set_property").On("property", key.String()).
			Access(fmt.Errorf("resolver wrote outside its declared output set"))
	}
	if p.AccessMode == property.ReadOnly && n.resolving == nil {
		return chdrerr.New("set_property").On("property", key.String()).
			Access(fmt.Errorf("property is read-only"))
	}
	return p.Set(v)
}

// SetEdgeValue writes an INPUT_EDGE/OUTPUT_EDGE property's value as the
// graph's propagation machinery does when copying a value across an edge.
// It bypasses the AccessMode/resolver access guard: edge propagation is the
// framework moving a value along a wire, not a user or resolver write, so
// it isn't bound by either's restrictions. The key must already be
// registered and must be edge-sourced.
func (n *Node) SetEdgeValue(key property.Key, v property.Value) error {
	if key.Source != property.SourceInputEdge && key.Source != property.SourceOutputEdge {
		return chdrerr.New("forward_edge_props").On("property", key.String()).
			Access(fmt.Errorf("SetEdgeValue called on a non-edge-sourced property"))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.properties[key]
	if !ok {
		return chdrerr.New("forward_edge_props").On("property", key.String()).
			Lookup(fmt.Errorf("property not registered"))
	}
	return p.Set(v)
}

// RegisterActionHandler installs the handler invoked when an action with
// the given key is routed to this node.
func (n *Node) RegisterActionHandler(key string, fn ActionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actionHandlers[key] = fn
}

// PostAction implements Accessor: it hands the action to the graph's
// router, which resolves the neighbour across srcPort and dispatches it.
func (n *Node) PostAction(srcPort int, dir PortDirection, action Action) error {
	if n.router == nil {
		return chdrerr.New("post_action").On("node", n.id).
			Fatal(fmt.Errorf("node has no router installed"))
	}
	return n.router.Route(n, srcPort, dir, action)
}

// HandleAction is called by the graph's router to deliver an action that
// arrived on incoming. Returns nil (a no-op) if no handler is registered
// for action.Key — "deliveries without a match are silently dropped".
func (n *Node) HandleAction(incoming EdgeSide, action Action) error {
	n.mu.RLock()
	fn, ok := n.actionHandlers[action.Key]
	n.mu.RUnlock()
	if !ok {
		return nil
	}
	return fn(n, incoming, action)
}

// ForwardPorts returns the destination ports an action/property arriving on
// fromPort (in direction dir) should fan out to on this node, per the
// node's configured forwarding policy for the given key/id.
func (n *Node) ForwardPorts(key string, fromPort int, dir PortDirection, isAction bool) []EdgeSide {
	var policy ForwardingPolicy
	if isAction {
		policy = n.actionPolicy(key)
	} else {
		policy = n.propPolicy(key)
	}

	opposite := dir.Invert()
	switch policy {
	case Drop:
		return nil
	case OneToOne:
		return []EdgeSide{{Port: fromPort, Dir: opposite}}
	case OneToFan:
		var out []EdgeSide
		n.forEachPort(opposite, func(p int) { out = append(out, EdgeSide{Port: p, Dir: opposite}) })
		return out
	case OneToAllIn:
		var out []EdgeSide
		n.forEachPort(InputPort, func(p int) { out = append(out, EdgeSide{Port: p, Dir: InputPort}) })
		return out
	case OneToAllOut:
		var out []EdgeSide
		n.forEachPort(OutputPort, func(p int) { out = append(out, EdgeSide{Port: p, Dir: OutputPort}) })
		return out
	case OneToAll:
		var out []EdgeSide
		n.forEachPort(InputPort, func(p int) { out = append(out, EdgeSide{Port: p, Dir: InputPort}) })
		n.forEachPort(OutputPort, func(p int) { out = append(out, EdgeSide{Port: p, Dir: OutputPort}) })
		return out
	default:
		return nil
	}
}

func (n *Node) forEachPort(dir PortDirection, fn func(port int)) {
	count := n.numInputs
	if dir == OutputPort {
		count = n.numOutputs
	}
	for i := 0; i < count; i++ {
		fn(i)
	}
}

// ResolveProps runs each of this node's resolvers once for one visit: the
// resolvers touching a currently-dirty input run first, then the remaining
// resolvers, enforcing the access guard around each call.
func (n *Node) ResolveProps() error {
	n.mu.Lock()
	dirtyFirst := make([]*Resolver, 0, len(n.resolvers))
	rest := make([]*Resolver, 0, len(n.resolvers))
	for _, r := range n.resolvers {
		if r.touchesDirty(n) {
			dirtyFirst = append(dirtyFirst, r)
		} else {
			rest = append(rest, r)
		}
	}
	ordered := append(dirtyFirst, rest...)
	n.mu.Unlock()

	for _, r := range ordered {
		if err := n.runResolver(r); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) runResolver(r *Resolver) error {
	n.mu.Lock()
	if n.resolving != nil {
		n.mu.Unlock()
		return chdrerr.New("resolve_props").On("node", n.id).
			Access(fmt.Errorf("re-entrant resolver invocation"))
	}
	outputs := make(map[property.Key]bool, len(r.Outputs))
	for _, k := range r.Outputs {
		outputs[k] = true
	}
	n.resolving = outputs
	n.mu.Unlock()

	err := r.Fn(n)

	n.mu.Lock()
	n.resolving = nil
	n.mu.Unlock()

	if err != nil {
		return chdrerr.New("resolve_props").On("node", n.id).Resolve(err)
	}
	return nil
}

// CleanProps marks every property clean, firing clean callbacks on real
// dirty->clean transitions.
func (n *Node) CleanProps() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.properties {
		p.MarkClean()
	}
}

// AnyDirty reports whether any non-framework property on this node is
// dirty — used by the graph to pick a propagation start point.
func (n *Node) AnyDirty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for k, p := range n.properties {
		if k.Source == property.SourceFramework {
			continue
		}
		if p.Dirty {
			return true
		}
	}
	return false
}

// AllClean reports whether every non-framework property on this node is
// clean — used at the end of a propagation pass to detect non-convergence.
func (n *Node) AllClean() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for k, p := range n.properties {
		if k.Source == property.SourceFramework {
			continue
		}
		if p.Dirty {
			return false
		}
	}
	return true
}

// PropertyAt returns the property registered under key, if any.
func (n *Node) PropertyAt(key property.Key) (*property.Property, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.properties[key]
	return p, ok
}

// PropertyKeys returns every registered property key, sorted for
// deterministic iteration (propagation order matters for test stability).
func (n *Node) PropertyKeys() []property.Key {
	n.mu.RLock()
	defer n.mu.RUnlock()
	keys := make([]property.Key, 0, len(n.properties))
	for k := range n.properties {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Port < keys[j].Port
	})
	return keys
}

// ForwardEdgeProperty creates a dynamic property mirroring incomingProp on
// this node's opposite-direction port, per this node's forwarding policy,
// and registers a resolver that keeps it in sync. Called by the graph when
// an edge carries a property id this node has never seen.
func (n *Node) ForwardEdgeProperty(incomingProp *property.Property, incomingPort int) ([]*property.Property, error) {
	sides := n.ForwardPorts(incomingProp.Key.ID, incomingPort, portDirectionOf(incomingProp.Key.Source), false)
	if len(sides) == 0 {
		return nil, nil
	}

	var created []*property.Property
	for _, side := range sides {
		source := property.SourceInputEdge
		if side.Dir == OutputPort {
			source = property.SourceOutputEdge
		}
		newKey := property.EdgeKey(incomingProp.Key.ID, source, side.Port)

		n.mu.Lock()
		if _, exists := n.properties[newKey]; exists {
			n.mu.Unlock()
			continue
		}
		clone := incomingProp.Clone(newKey)
		n.properties[newKey] = clone
		n.mu.Unlock()

		if _, err := n.AddResolver([]property.Key{incomingProp.Key}, []property.Key{newKey}, func(acc Accessor) error {
			v, err := acc.Get(incomingProp.Key)
			if err != nil {
				return err
			}
			return acc.Set(newKey, v)
		}); err != nil {
			return created, err
		}
		created = append(created, clone)
	}
	return created, nil
}

// portDirectionOf maps an edge-typed Source to the PortDirection it lives on.
// SourceUser and SourceFramework have no port and default to InputPort,
// which callers must not rely on.
func portDirectionOf(s property.Source) PortDirection {
	if s == property.SourceOutputEdge {
		return OutputPort
	}
	return InputPort
}
