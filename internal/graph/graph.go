// Package graph derives the relationship graph between customers, projects,
// equipment, manufacturers and locations from a list of equipment records.
// Nothing is stored; the graph is rebuilt on every request.
package graph

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/crucial707/equipment-manager/internal/models"
)

// Node kinds.
const (
	KindCustomer     = "customer"
	KindProject      = "project"
	KindEquipment    = "equipment"
	KindManufacturer = "manufacturer"
	KindLocation     = "location"
)

// Edge relations.
const (
	RelOwns      = "owns"
	RelPartOf    = "part_of"
	RelMadeBy    = "made_by"
	RelCoLocated = "co_located"
)

// DefaultMaxEquipment caps the equipment nodes of one graph.
const DefaultMaxEquipment = 50

// kindOrder fixes node ordering and the ring each kind is laid out on.
var kindOrder = []string{KindCustomer, KindProject, KindLocation, KindEquipment, KindManufacturer}

// Radii of the layout rings.
var Radii = map[string]float64{
	KindCustomer:     400,
	KindLocation:     325,
	KindProject:      250,
	KindEquipment:    150,
	KindManufacturer: 50,
}

// Node is one vertex. Group equals Kind and is what vis-network styles by.
type Node struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Kind        string  `json:"kind"`
	Group       string  `json:"group"`
	Title       string  `json:"title,omitempty"`
	EquipmentID int64   `json:"equipment_id,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// Edge connects two nodes that are both present in the graph.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Graph is the JSON shape served by GET /graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	// TotalEquipment counts the records offered to Build; Truncated is set when
	// some of them were left out by the cap.
	TotalEquipment int  `json:"total_equipment"`
	Truncated      bool `json:"truncated"`

	Stats Stats `json:"stats"`
}

// Stats summarizes the drawn graph. Density treats edges as directed:
// Edges / (N * (N-1)), zero below two nodes.
type Stats struct {
	Nodes   map[string]int `json:"nodes"`
	Edges   int            `json:"edges"`
	Density float64        `json:"density"`
}

type Options struct {
	MaxEquipment int
}

// Build derives the graph of list. When list holds more than MaxEquipment
// records, the first ones by customer then serial number are kept.
func Build(list []models.Equipment, opts Options) Graph {
	max := opts.MaxEquipment
	if max <= 0 {
		max = DefaultMaxEquipment
	}

	records := append([]models.Equipment(nil), list...)
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.CustomerName != b.CustomerName {
			return a.CustomerName < b.CustomerName
		}
		return a.SerialNumber < b.SerialNumber
	})

	g := Graph{TotalEquipment: len(records)}
	if len(records) > max {
		records = records[:max]
		g.Truncated = true
	}

	b := newBuilder()
	bySerial := make(map[string]string, len(records))
	for _, e := range records {
		bySerial[e.SerialNumber] = equipmentID(e)
	}

	for _, e := range records {
		eq := equipmentID(e)
		b.node(Node{
			ID:          eq,
			Label:       e.SerialNumber,
			Kind:        KindEquipment,
			Title:       equipmentTitle(e),
			EquipmentID: e.ID,
		})

		customer := ""
		if key := firstNonEmpty(e.CustomerID, e.CustomerName); key != "" {
			customer = KindCustomer + ":" + key
			b.node(Node{ID: customer, Label: firstNonEmpty(e.CustomerName, e.CustomerID), Kind: KindCustomer, Title: e.CustomerID})
		}

		if e.ProjectID != "" {
			project := KindProject + ":" + e.ProjectID
			b.node(Node{ID: project, Label: e.ProjectID, Kind: KindProject})
			b.edge(eq, project, RelPartOf)
			if customer != "" {
				b.edge(customer, project, RelOwns)
			}
		} else if customer != "" {
			b.edge(customer, eq, RelOwns)
		}

		if e.Manufacturer != "" {
			mfr := KindManufacturer + ":" + strings.ToLower(e.Manufacturer)
			b.node(Node{ID: mfr, Label: e.Manufacturer, Kind: KindManufacturer})
			b.edge(eq, mfr, RelMadeBy)
		}

		if e.Location != "" {
			loc := KindLocation + ":" + strings.ToLower(e.Location)
			b.node(Node{ID: loc, Label: e.Location, Kind: KindLocation})
			b.edge(eq, loc, RelCoLocated)
		}

		if parent, ok := bySerial[e.ParentSerial]; ok && e.ParentSerial != "" && parent != eq {
			b.edge(eq, parent, RelPartOf)
		}
	}

	g.Nodes, g.Edges = b.result()
	g.Stats = stats(g)
	Layout(&g)
	return g
}

func stats(g Graph) Stats {
	s := Stats{Nodes: make(map[string]int), Edges: len(g.Edges)}
	for _, n := range g.Nodes {
		s.Nodes[n.Kind]++
	}
	if n := len(g.Nodes); n > 1 {
		d := float64(s.Edges) / float64(n*(n-1))
		s.Density = math.Round(d*1000) / 1000
	}
	return s
}

// Layout places nodes on concentric rings by kind, evenly spaced and starting
// at twelve o'clock.
func Layout(g *Graph) {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.Kind]++
	}
	seen := make(map[string]int)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		idx := seen[n.Kind]
		seen[n.Kind]++

		angle := 2*math.Pi*float64(idx)/float64(counts[n.Kind]) - math.Pi/2
		r := Radii[n.Kind]
		n.X = round2(r * math.Cos(angle))
		n.Y = round2(r * math.Sin(angle))
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

type builder struct {
	nodes map[string]Node
	edges map[Edge]struct{}
}

func newBuilder() *builder {
	return &builder{nodes: make(map[string]Node), edges: make(map[Edge]struct{})}
}

func (b *builder) node(n Node) {
	if _, ok := b.nodes[n.ID]; ok {
		return
	}
	n.Group = n.Kind
	b.nodes[n.ID] = n
}

func (b *builder) edge(from, to, rel string) {
	b.edges[Edge{From: from, To: to, Relation: rel}] = struct{}{}
}

// result returns nodes ordered by kind then id, and only edges whose ends both exist.
func (b *builder) result() ([]Node, []Edge) {
	rank := make(map[string]int, len(kindOrder))
	for i, k := range kindOrder {
		rank[k] = i
	}

	nodes := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return rank[nodes[i].Kind] < rank[nodes[j].Kind]
		}
		return nodes[i].ID < nodes[j].ID
	})

	edges := make([]Edge, 0, len(b.edges))
	for e := range b.edges {
		_, okFrom := b.nodes[e.From]
		_, okTo := b.nodes[e.To]
		if okFrom && okTo {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Relation < edges[j].Relation
	})
	return nodes, edges
}

func equipmentID(e models.Equipment) string {
	return KindEquipment + ":" + strconv.FormatInt(e.ID, 10)
}

func equipmentTitle(e models.Equipment) string {
	parts := []string{e.EquipmentType}
	if e.Model != "" {
		parts = append(parts, e.Model)
	}
	if e.Status != "" {
		parts = append(parts, e.Status)
	}
	return strings.Join(parts, " · ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
