package graph

// Data is the plain serialized form of a Graph.
type Data struct {
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

// Data returns the serialized form of g. Node and transition order is
// preserved so that a restored graph answers every query identically.
func (g *Graph) Data() Data {
	d := Data{
		Nodes:       make([]Node, 0, len(g.order)),
		Transitions: make([]Transition, 0, len(g.edges)),
	}
	for _, id := range g.order {
		d.Nodes = append(d.Nodes, g.nodes[id])
	}
	d.Transitions = append(d.Transitions, g.edges...)
	return d
}

// FromData rebuilds a Graph from its serialized form.
func FromData(d Data) (*Graph, error) {
	g := New()
	for _, n := range d.Nodes {
		if err := g.AddTask(n); err != nil {
			return nil, err
		}
	}
	for _, t := range d.Transitions {
		if err := g.AddTransition(t); err != nil {
			return nil, err
		}
	}
	g.Seal()
	return g, nil
}
