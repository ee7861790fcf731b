// Package selection tracks the selected entity and the open context menu.
// Selection and menu state are independent: closing a menu never clears the
// selection, and selecting never opens a menu.
package selection

import (
	"fmt"

	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/reconcile"
)

type MenuState string

const (
	MenuClosed MenuState = "closed"
	MenuCanvas MenuState = "canvas-menu"
	MenuNode   MenuState = "node-menu"
	MenuEdge   MenuState = "edge-menu"
)

// Menu is the currently open context menu. Screen coordinates position the
// popover; World is where a new block must land, which differs from Screen
// under pan/zoom.
type Menu struct {
	State    MenuState
	TargetID string
	Screen   *geo.Point
	World    *geo.Point
}

// Action identifies what a menu item does when invoked.
type Action string

const (
	ActionAddBlock       Action = "add-block"
	ActionAddPort        Action = "add-port"
	ActionDuplicateBlock Action = "duplicate-block"
	ActionDeleteBlock    Action = "delete-block"
	ActionSetKind        Action = "set-kind"
	ActionDeleteEdge     Action = "delete-edge"
)

// Item is one invocable entry of the open menu. Arg carries the action's
// parameter: a block kind, port direction, or connector kind.
type Item struct {
	Action Action
	Arg    string
	Label  string
}

type Machine struct {
	sel  reconcile.Selection
	menu Menu
}

func NewMachine() *Machine {
	return &Machine{menu: Menu{State: MenuClosed}}
}

func (m *Machine) Selection() reconcile.Selection { return m.sel }
func (m *Machine) Menu() Menu                     { return m.menu }

// SelectBlock makes the block the single selected entity.
func (m *Machine) SelectBlock(id string) {
	m.sel = reconcile.Selection{BlockID: id}
}

func (m *Machine) SelectConnector(id string) {
	m.sel = reconcile.Selection{ConnectorID: id}
}

func (m *Machine) ClearSelection() {
	m.sel = reconcile.Selection{}
}

func (m *Machine) OpenCanvasMenu(screen, world *geo.Point) {
	m.menu = Menu{State: MenuCanvas, Screen: screen.Copy(), World: world.Copy()}
}

func (m *Machine) OpenNodeMenu(blockID string, screen *geo.Point) {
	m.menu = Menu{State: MenuNode, TargetID: blockID, Screen: screen.Copy()}
}

func (m *Machine) OpenEdgeMenu(connectorID string, screen *geo.Point) {
	m.menu = Menu{State: MenuEdge, TargetID: connectorID, Screen: screen.Copy()}
}

// CloseMenu handles left-click, scroll, and Escape.
func (m *Machine) CloseMenu() {
	m.menu = Menu{State: MenuClosed}
}

// Reset is the diagram-switch transition: menu closed, selection cleared.
func (m *Machine) Reset() {
	m.menu = Menu{State: MenuClosed}
	m.sel = reconcile.Selection{}
}

// Prune drops selection and menu targets that no longer exist in the
// snapshot, e.g. after a concurrent session deleted them.
func (m *Machine) Prune(snap reconcile.Snapshot) {
	if m.sel.BlockID != "" && snap.Block(m.sel.BlockID) == nil {
		m.sel.BlockID = ""
	}
	if m.sel.ConnectorID != "" && snap.Connector(m.sel.ConnectorID) == nil {
		m.sel.ConnectorID = ""
	}
	switch m.menu.State {
	case MenuNode:
		if snap.Block(m.menu.TargetID) == nil {
			m.CloseMenu()
		}
	case MenuEdge:
		if snap.Connector(m.menu.TargetID) == nil {
			m.CloseMenu()
		}
	}
}

// Items derives the open menu's entries from the current snapshot. A closed
// menu has none.
func (m *Machine) Items(snap reconcile.Snapshot) []Item {
	switch m.menu.State {
	case MenuCanvas:
		items := make([]Item, 0, len(model.Kinds))
		for _, k := range model.Kinds {
			items = append(items, Item{
				Action: ActionAddBlock,
				Arg:    string(k),
				Label:  fmt.Sprintf("Add %s block", k),
			})
		}
		return items
	case MenuNode:
		b := snap.Block(m.menu.TargetID)
		if b == nil {
			return nil
		}
		var items []Item
		for _, d := range model.Directions {
			n := 0
			for _, p := range b.Ports {
				if p.Direction == d {
					n++
				}
			}
			label := fmt.Sprintf("Add %s port", d)
			if n > 0 {
				label = fmt.Sprintf("Add %s port (%d)", d, n)
			}
			items = append(items, Item{Action: ActionAddPort, Arg: string(d), Label: label})
		}
		items = append(items,
			Item{Action: ActionDuplicateBlock, Label: "Duplicate"},
			Item{Action: ActionDeleteBlock, Label: "Delete"},
		)
		return items
	case MenuEdge:
		c := snap.Connector(m.menu.TargetID)
		if c == nil {
			return nil
		}
		var items []Item
		for _, k := range model.ConnectorKinds {
			if k == c.Kind {
				continue
			}
			items = append(items, Item{
				Action: ActionSetKind,
				Arg:    string(k),
				Label:  fmt.Sprintf("Change to %s", k),
			})
		}
		items = append(items, Item{Action: ActionDeleteEdge, Label: "Delete"})
		return items
	default:
		return nil
	}
}
