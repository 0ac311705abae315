package relation

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/nestwrite/schema"
)

// Catalog caches the relation tables of node schemas. It is safe for
// concurrent use; concurrent first lookups of a schema classify it once.
type Catalog struct {
	graph  *schema.Graph
	tables sync.Map // *schema.Node => *Table
	group  singleflight.Group
}

// NewCatalog returns an empty catalog over the model graph.
func NewCatalog(g *schema.Graph) *Catalog {
	return &Catalog{graph: g}
}

// Graph returns the model graph of the catalog.
func (c *Catalog) Graph() *schema.Graph {
	return c.graph
}

// Classify returns the relation table of a node schema.
func (c *Catalog) Classify(n *schema.Node) (*Table, error) {
	if t, ok := c.tables.Load(n); ok {
		return t.(*Table), nil
	}
	v, err, _ := c.group.Do(fmt.Sprintf("%p", n), func() (any, error) {
		if t, ok := c.tables.Load(n); ok {
			return t, nil
		}
		t, err := Classify(c.graph, n)
		if err != nil {
			return nil, err
		}
		c.tables.Store(n, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Warm classifies a node schema and every schema nested in it.
func (c *Catalog) Warm(n *schema.Node) error {
	return c.warm(n, make(map[*schema.Node]bool))
}

func (c *Catalog) warm(n *schema.Node, seen map[*schema.Node]bool) error {
	if seen[n] {
		return nil
	}
	seen[n] = true
	t, err := c.Classify(n)
	if err != nil {
		return err
	}
	for _, d := range t.Fields {
		if err := c.warm(d.Node, seen); err != nil {
			return err
		}
	}
	return nil
}
