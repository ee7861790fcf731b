package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/reconcile"
)

func snapshot() reconcile.Snapshot {
	return reconcile.Snapshot{
		Diagram: &model.Diagram{ID: "d1"},
		Blocks: []model.Block{
			{ID: "a", Name: "ECU", Kind: model.KindComponent, Ports: []model.Port{
				{ID: "p1", Direction: model.DirectionIn},
				{ID: "p2", Direction: model.DirectionIn},
			}},
		},
		Connectors: []model.Connector{
			{ID: "c1", Src: "a", Dst: "a", Kind: model.KindFlow},
		},
	}
}

func TestMenuTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, MenuClosed, m.Menu().State)

	m.OpenCanvasMenu(geo.NewPoint(10, 20), geo.NewPoint(-300, 45))
	assert.Equal(t, MenuCanvas, m.Menu().State)
	assert.Equal(t, -300., m.Menu().World.X)

	m.OpenNodeMenu("a", geo.NewPoint(5, 5))
	assert.Equal(t, MenuNode, m.Menu().State)
	assert.Equal(t, "a", m.Menu().TargetID)

	m.OpenEdgeMenu("c1", geo.NewPoint(5, 5))
	assert.Equal(t, MenuEdge, m.Menu().State)

	m.CloseMenu()
	assert.Equal(t, MenuClosed, m.Menu().State)
}

func TestSelectionIndependentOfMenu(t *testing.T) {
	m := NewMachine()
	m.SelectBlock("a")
	m.OpenCanvasMenu(geo.NewPoint(0, 0), geo.NewPoint(0, 0))
	m.CloseMenu()
	assert.Equal(t, "a", m.Selection().BlockID)

	m.SelectConnector("c1")
	assert.Equal(t, "", m.Selection().BlockID)
	assert.Equal(t, "c1", m.Selection().ConnectorID)

	m.Reset()
	assert.Equal(t, reconcile.Selection{}, m.Selection())
	assert.Equal(t, MenuClosed, m.Menu().State)
}

func TestPrune(t *testing.T) {
	m := NewMachine()
	m.SelectBlock("gone")
	m.Prune(snapshot())
	assert.Equal(t, "", m.Selection().BlockID)

	m.SelectConnector("c1")
	m.Prune(snapshot())
	assert.Equal(t, "c1", m.Selection().ConnectorID)

	m.OpenNodeMenu("gone", geo.NewPoint(0, 0))
	m.Prune(snapshot())
	assert.Equal(t, MenuClosed, m.Menu().State)

	m.OpenEdgeMenu("c1", geo.NewPoint(0, 0))
	m.Prune(snapshot())
	assert.Equal(t, MenuEdge, m.Menu().State)
}

func TestCanvasMenuItems(t *testing.T) {
	m := NewMachine()
	m.OpenCanvasMenu(geo.NewPoint(0, 0), geo.NewPoint(0, 0))
	items := m.Items(snapshot())
	assert.Len(t, items, len(model.Kinds))
	for i, k := range model.Kinds {
		assert.Equal(t, ActionAddBlock, items[i].Action)
		assert.Equal(t, string(k), items[i].Arg)
	}
}

func TestNodeMenuItems(t *testing.T) {
	m := NewMachine()
	m.OpenNodeMenu("a", geo.NewPoint(0, 0))
	items := m.Items(snapshot())

	assert.Equal(t, Item{Action: ActionAddPort, Arg: "in", Label: "Add in port (2)"}, items[0])
	assert.Equal(t, Item{Action: ActionAddPort, Arg: "out", Label: "Add out port"}, items[1])
	assert.Equal(t, Item{Action: ActionAddPort, Arg: "inout", Label: "Add inout port"}, items[2])
	assert.Equal(t, ActionDuplicateBlock, items[3].Action)
	assert.Equal(t, ActionDeleteBlock, items[4].Action)
}

func TestEdgeMenuItems(t *testing.T) {
	m := NewMachine()
	m.OpenEdgeMenu("c1", geo.NewPoint(0, 0))
	items := m.Items(snapshot())

	// the connector's own kind is not offered
	for _, it := range items[:len(items)-1] {
		assert.Equal(t, ActionSetKind, it.Action)
		assert.NotEqual(t, "flow", it.Arg)
	}
	assert.Equal(t, ActionDeleteEdge, items[len(items)-1].Action)
}

func TestItemsClosedMenu(t *testing.T) {
	m := NewMachine()
	assert.Nil(t, m.Items(snapshot()))
}
