// Package store is the domain model boundary: async CRUD over blocks and
// connectors, scoped to tenant/project/diagram. The engine treats any
// implementation as authoritative.
package store

import (
	"context"
	"errors"

	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrEmptyUpdate rejects partial updates carrying no fields, before any
	// persistence work happens.
	ErrEmptyUpdate = errors.New("update carries no fields")
	// ErrInvalidReference rejects connectors referencing missing blocks or
	// ports not owned by the referenced block.
	ErrInvalidReference = errors.New("invalid entity reference")
)

// Scope addresses one diagram of one project of one tenant.
type Scope struct {
	Tenant  string
	Project string
	Diagram string
}

// BlockUpdate is a partial block mutation: nil fields are left untouched.
// Ports and DocumentRefs replace wholesale when set.
type BlockUpdate struct {
	Name        *string
	Stereotype  *string
	Description *string

	Pos    *geo.Point
	Width  *float64
	Height *float64

	Ports        *[]model.Port
	DocumentRefs *[]string
	Style        *model.BlockStyle
}

func (u BlockUpdate) IsZero() bool {
	return u.Name == nil && u.Stereotype == nil && u.Description == nil &&
		u.Pos == nil && u.Width == nil && u.Height == nil &&
		u.Ports == nil && u.DocumentRefs == nil && u.Style == nil
}

// ConnectorUpdate is a partial connector mutation. For override fields a nil
// pointer leaves the stored value, a pointer to the empty string (or zero
// width) clears the override back to the kind default.
type ConnectorUpdate struct {
	Kind  *model.ConnectorKind
	Label *string

	SrcPort *string
	DstPort *string

	LineStyle   *string
	LinePattern *string
	MarkerStart *string
	MarkerEnd   *string
	Stroke      *string
	StrokeWidth *float64

	DocumentRefs *[]string
}

func (u ConnectorUpdate) IsZero() bool {
	return u.Kind == nil && u.Label == nil &&
		u.SrcPort == nil && u.DstPort == nil &&
		u.LineStyle == nil && u.LinePattern == nil &&
		u.MarkerStart == nil && u.MarkerEnd == nil &&
		u.Stroke == nil && u.StrokeWidth == nil &&
		u.DocumentRefs == nil
}

// Store is implemented by the graph-database catalog in production; the
// in-memory and sqlite implementations here back tests and the dev server.
//
// DeleteBlock cascades: connectors touching the block as source or target go
// with it.
type Store interface {
	CreateDiagram(ctx context.Context, scope Scope, d *model.Diagram) error
	GetDiagram(ctx context.Context, scope Scope) (*model.Diagram, error)
	DeleteDiagram(ctx context.Context, scope Scope) error

	ListBlocks(ctx context.Context, scope Scope) ([]model.Block, error)
	CreateBlock(ctx context.Context, scope Scope, b *model.Block) error
	UpdateBlock(ctx context.Context, scope Scope, id string, u BlockUpdate) error
	DeleteBlock(ctx context.Context, scope Scope, id string) error

	ListConnectors(ctx context.Context, scope Scope) ([]model.Connector, error)
	CreateConnector(ctx context.Context, scope Scope, c *model.Connector) error
	UpdateConnector(ctx context.Context, scope Scope, id string, u ConnectorUpdate) error
	DeleteConnector(ctx context.Context, scope Scope, id string) error
}

// overridePtr maps the update convention (empty string clears) onto the
// model's nil-means-default pointers.
func overridePtr(v string) *string {
	if v == "" {
		return nil
	}
	s := v
	return &s
}

// applyConnectorUpdate is shared by implementations that materialize the
// whole entity before writing it back.
func applyConnectorUpdate(c *model.Connector, u ConnectorUpdate) {
	if u.Kind != nil {
		c.Kind = *u.Kind
	}
	if u.Label != nil {
		c.Label = *u.Label
	}
	if u.SrcPort != nil {
		c.SrcPort = *u.SrcPort
	}
	if u.DstPort != nil {
		c.DstPort = *u.DstPort
	}
	if u.LineStyle != nil {
		c.LineStyle = overridePtr(*u.LineStyle)
	}
	if u.LinePattern != nil {
		c.LinePattern = overridePtr(*u.LinePattern)
	}
	if u.MarkerStart != nil {
		c.MarkerStart = overridePtr(*u.MarkerStart)
	}
	if u.MarkerEnd != nil {
		c.MarkerEnd = overridePtr(*u.MarkerEnd)
	}
	if u.Stroke != nil {
		c.Stroke = overridePtr(*u.Stroke)
	}
	if u.StrokeWidth != nil {
		if *u.StrokeWidth <= 0 {
			c.StrokeWidth = nil
		} else {
			w := *u.StrokeWidth
			c.StrokeWidth = &w
		}
	}
	if u.DocumentRefs != nil {
		c.DocumentRefs = append([]string(nil), *u.DocumentRefs...)
	}
}

func applyBlockUpdate(b *model.Block, u BlockUpdate) {
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.Stereotype != nil {
		b.Stereotype = *u.Stereotype
	}
	if u.Description != nil {
		b.Description = *u.Description
	}
	if u.Pos != nil {
		b.Pos = *u.Pos
	}
	if u.Width != nil {
		b.Width = *u.Width
	}
	if u.Height != nil {
		b.Height = *u.Height
	}
	if u.Ports != nil {
		b.Ports = append([]model.Port(nil), *u.Ports...)
	}
	if u.DocumentRefs != nil {
		b.DocumentRefs = append([]string(nil), *u.DocumentRefs...)
	}
	if u.Style != nil {
		b.Style = *u.Style
	}
	b.ClampSize()
}
