package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// dotGraph collects a parsed DOT graph without gographviz's attribute whitelist, since
// pipeline attributes (kind, expr, success, ...) are not Graphviz attributes.
type dotGraph struct {
	name     string
	directed bool
	order    []string
	nodes    map[string]map[string]string
	edges    []dotEdge
}

type dotEdge struct {
	From string
	To   string
}

var _ gographviz.Interface = (*dotGraph)(nil)

func newDotGraph() *dotGraph {
	return &dotGraph{nodes: map[string]map[string]string{}}
}

func (g *dotGraph) SetStrict(bool) error { return nil }

func (g *dotGraph) SetDir(directed bool) error {
	g.directed = directed
	return nil
}

func (g *dotGraph) SetName(name string) error {
	g.name = unquote(name)
	return nil
}

func (g *dotGraph) AddPortEdge(src, srcPort, dst, dstPort string, directed bool, _ map[string]string) error {
	if srcPort != "" || dstPort != "" {
		return fmt.Errorf("ports are not supported (%s -> %s)", src, dst)
	}
	if !directed {
		return fmt.Errorf("edge %s -- %s must be directed", src, dst)
	}
	g.edges = append(g.edges, dotEdge{From: unquote(src), To: unquote(dst)})
	return nil
}

func (g *dotGraph) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return g.AddPortEdge(src, "", dst, "", directed, attrs)
}

// AddNode is called once per mention of a node; later attributes win.
func (g *dotGraph) AddNode(_ string, name string, attrs map[string]string) error {
	name = unquote(name)
	node, ok := g.nodes[name]
	if !ok {
		node = map[string]string{}
		g.nodes[name] = node
		g.order = append(g.order, name)
	}
	for k, v := range attrs {
		node[k] = unquote(v)
	}
	return nil
}

func (g *dotGraph) AddAttr(string, string, string) error { return nil }

func (g *dotGraph) AddSubGraph(_ string, name string, _ map[string]string) error {
	return fmt.Errorf("subgraph %s is not supported", name)
}

func (g *dotGraph) String() string { return g.name }

func parseDOT(dot string) (*dotGraph, error) {
	tree, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	g := newDotGraph()
	if err := gographviz.Analyse(tree, g); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}
	if !g.directed {
		return nil, fmt.Errorf("pipeline must be a digraph")
	}
	return g, nil
}

// unquote strips the quotes DOT keeps on IDs and attribute values.
func unquote(val string) string {
	val = strings.TrimSpace(val)
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		if s, err := strconv.Unquote(val); err == nil {
			return s
		}
		return val[1 : len(val)-1]
	}
	return val
}
