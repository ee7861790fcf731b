package store

import (
	"context"
	"sync"

	"github.com/reqlab/blockcanvas/model"
)

type diagramState struct {
	diagram    model.Diagram
	blocks     []model.Block
	connectors []model.Connector
}

// Memory is an in-process Store used by tests and the dev server's default
// configuration. Entities are copied on the way in and out so callers never
// alias store-owned state.
type Memory struct {
	mu       sync.Mutex
	diagrams map[Scope]*diagramState
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{diagrams: make(map[Scope]*diagramState)}
}

func (m *Memory) CreateDiagram(ctx context.Context, scope Scope, d *model.Diagram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagrams[scope] = &diagramState{diagram: *d}
	return nil
}

func (m *Memory) GetDiagram(ctx context.Context, scope Scope) (*model.Diagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return nil, ErrNotFound
	}
	d := st.diagram
	return &d, nil
}

func (m *Memory) DeleteDiagram(ctx context.Context, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.diagrams[scope]; !ok {
		return ErrNotFound
	}
	delete(m.diagrams, scope)
	return nil
}

func (m *Memory) ListBlocks(ctx context.Context, scope Scope) ([]model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Block, len(st.blocks))
	for i := range st.blocks {
		out[i] = copyBlock(st.blocks[i])
	}
	return out, nil
}

func (m *Memory) CreateBlock(ctx context.Context, scope Scope, b *model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	nb := copyBlock(*b)
	nb.ClampSize()
	st.blocks = append(st.blocks, nb)
	return nil
}

func (m *Memory) UpdateBlock(ctx context.Context, scope Scope, id string, u BlockUpdate) error {
	if u.IsZero() {
		return ErrEmptyUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	for i := range st.blocks {
		if st.blocks[i].ID == id {
			applyBlockUpdate(&st.blocks[i], u)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteBlock(ctx context.Context, scope Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	found := false
	blocks := st.blocks[:0]
	for _, b := range st.blocks {
		if b.ID == id {
			found = true
			continue
		}
		blocks = append(blocks, b)
	}
	if !found {
		return ErrNotFound
	}
	st.blocks = blocks

	// cascade: incident connectors go with the block
	connectors := st.connectors[:0]
	for _, c := range st.connectors {
		if c.References(id) {
			continue
		}
		connectors = append(connectors, c)
	}
	st.connectors = connectors
	return nil
}

func (m *Memory) ListConnectors(ctx context.Context, scope Scope) ([]model.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Connector, len(st.connectors))
	copy(out, st.connectors)
	return out, nil
}

func (m *Memory) CreateConnector(ctx context.Context, scope Scope, c *model.Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	if err := validateConnector(st, c); err != nil {
		return err
	}
	st.connectors = append(st.connectors, *c)
	return nil
}

func (m *Memory) UpdateConnector(ctx context.Context, scope Scope, id string, u ConnectorUpdate) error {
	if u.IsZero() {
		return ErrEmptyUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	for i := range st.connectors {
		if st.connectors[i].ID == id {
			updated := st.connectors[i]
			applyConnectorUpdate(&updated, u)
			if err := validateConnector(st, &updated); err != nil {
				return err
			}
			st.connectors[i] = updated
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteConnector(ctx context.Context, scope Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.diagrams[scope]
	if !ok {
		return ErrNotFound
	}
	for i := range st.connectors {
		if st.connectors[i].ID == id {
			st.connectors = append(st.connectors[:i], st.connectors[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func validateConnector(st *diagramState, c *model.Connector) error {
	src := findBlock(st, c.Src)
	dst := findBlock(st, c.Dst)
	if src == nil || dst == nil {
		return ErrInvalidReference
	}
	if c.SrcPort != "" && src.Port(c.SrcPort) == nil {
		return ErrInvalidReference
	}
	if c.DstPort != "" && dst.Port(c.DstPort) == nil {
		return ErrInvalidReference
	}
	return nil
}

func findBlock(st *diagramState, id string) *model.Block {
	for i := range st.blocks {
		if st.blocks[i].ID == id {
			return &st.blocks[i]
		}
	}
	return nil
}

func copyBlock(b model.Block) model.Block {
	b.Ports = append([]model.Port(nil), b.Ports...)
	b.DocumentRefs = append([]string(nil), b.DocumentRefs...)
	return b
}
