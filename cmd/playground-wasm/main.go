//go:build js && wasm

package main

import (
	"encoding/json"
	"syscall/js"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/graph/visual"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

type result struct {
	Mermaid  string   `json:"mermaid,omitempty"`
	Products int      `json:"products"`
	Edges    int      `json:"edges"`
	Order    []string `json:"order,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// renderCatalog parses a catalog definition and returns its dependency
// graph as Mermaid together with the publish order.
func renderCatalog(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return toJS(result{Errors: []string{"missing yaml argument"}})
	}

	c, err := catalog.Load([]byte(args[0].String()), "/playground")
	if err != nil {
		if problems := errors.Problems(err); len(problems) > 0 {
			return toJS(result{Errors: problems})
		}
		return toJS(result{Errors: []string{err.Error()}})
	}

	g, err := graph.Build(c)
	if err != nil {
		return toJS(result{Errors: []string{err.Error()}})
	}

	mermaid, err := visual.RenderMermaid(g, visual.MermaidOptions{
		Direction:        "LR",
		GroupByPortfolio: true,
	})
	if err != nil {
		return toJS(result{Errors: []string{err.Error()}})
	}

	order, err := g.TopologicalOrder(nil)
	if err != nil {
		return toJS(result{Errors: []string{err.Error()}})
	}

	edges := 0
	for _, id := range g.IDs() {
		n, _ := g.Node(id)
		edges += len(n.DependsOn)
	}

	return toJS(result{
		Mermaid:  mermaid,
		Products: g.Len(),
		Edges:    edges,
		Order:    order,
	})
}

func toJS(r result) interface{} {
	data, _ := json.Marshal(r)
	return js.ValueOf(string(data))
}

func main() {
	js.Global().Set("catalogctlRenderCatalog", js.FuncOf(renderCatalog))
	// Signal that the module is ready
	if cb := js.Global().Get("_catalogctlReady"); !cb.IsUndefined() && !cb.IsNull() {
		cb.Invoke()
	}
	// Block forever
	select {}
}
