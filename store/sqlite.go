package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"oss.terrastruct.com/util-go/xdefer"

	"github.com/reqlab/blockcanvas/model"
)

// SQLite persists diagrams in a local SQLite file. It stands in for the
// production graph catalog in the dev server; rows are soft-deleted so the
// surrounding tooling can audit edits.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS diagrams (
	tenant      TEXT NOT NULL,
	project     TEXT NOT NULL,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	view        TEXT NOT NULL DEFAULT '',
	deleted_at  TEXT,
	PRIMARY KEY (tenant, project, id)
);

CREATE TABLE IF NOT EXISTS blocks (
	tenant        TEXT NOT NULL,
	project       TEXT NOT NULL,
	diagram       TEXT NOT NULL,
	id            TEXT NOT NULL,
	name          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	stereotype    TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	x             REAL NOT NULL,
	y             REAL NOT NULL,
	width         REAL NOT NULL,
	height        REAL NOT NULL,
	ports         TEXT NOT NULL DEFAULT '[]',
	document_refs TEXT NOT NULL DEFAULT '[]',
	style         TEXT NOT NULL DEFAULT '{}',
	deleted_at    TEXT,
	PRIMARY KEY (tenant, project, diagram, id)
);

CREATE TABLE IF NOT EXISTS connectors (
	tenant        TEXT NOT NULL,
	project       TEXT NOT NULL,
	diagram       TEXT NOT NULL,
	id            TEXT NOT NULL,
	src           TEXT NOT NULL,
	src_port      TEXT NOT NULL DEFAULT '',
	dst           TEXT NOT NULL,
	dst_port      TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	overrides     TEXT NOT NULL DEFAULT '{}',
	document_refs TEXT NOT NULL DEFAULT '[]',
	deleted_at    TEXT,
	PRIMARY KEY (tenant, project, diagram, id)
);

CREATE INDEX IF NOT EXISTS idx_connectors_endpoints
	ON connectors (tenant, project, diagram, src, dst);
`

func NewSQLite(path string) (_ *SQLite, err error) {
	defer xdefer.Errorf(&err, "failed to open sqlite store %q", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under the dev server's concurrent flush goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// connectorOverrides is the JSON shape of a connector's nullable style
// overrides, stored in one column.
type connectorOverrides struct {
	LineStyle   *string  `json:"lineStyle,omitempty"`
	LinePattern *string  `json:"linePattern,omitempty"`
	MarkerStart *string  `json:"markerStart,omitempty"`
	MarkerEnd   *string  `json:"markerEnd,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
}

func (s *SQLite) CreateDiagram(ctx context.Context, scope Scope, d *model.Diagram) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diagrams (tenant, project, id, name, description, view)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, project, id)
		DO UPDATE SET name = excluded.name, description = excluded.description,
			view = excluded.view, deleted_at = NULL`,
		scope.Tenant, scope.Project, d.ID, d.Name, d.Description, d.View)
	return err
}

func (s *SQLite) GetDiagram(ctx context.Context, scope Scope) (*model.Diagram, error) {
	var d model.Diagram
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, view FROM diagrams
		WHERE tenant = ? AND project = ? AND id = ? AND deleted_at IS NULL`,
		scope.Tenant, scope.Project, scope.Diagram).
		Scan(&d.ID, &d.Name, &d.Description, &d.View)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLite) DeleteDiagram(ctx context.Context, scope Scope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE diagrams SET deleted_at = ?
		WHERE tenant = ? AND project = ? AND id = ? AND deleted_at IS NULL`,
		now(), scope.Tenant, scope.Project, scope.Diagram)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) ListBlocks(ctx context.Context, scope Scope) (_ []model.Block, err error) {
	defer xdefer.Errorf(&err, "failed to list blocks")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, stereotype, description, x, y, width, height, ports, document_refs, style
		FROM blocks
		WHERE tenant = ? AND project = ? AND diagram = ? AND deleted_at IS NULL
		ORDER BY rowid`,
		scope.Tenant, scope.Project, scope.Diagram)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		var b model.Block
		var ports, refs, style string
		err := rows.Scan(&b.ID, &b.Name, &b.Kind, &b.Stereotype, &b.Description,
			&b.Pos.X, &b.Pos.Y, &b.Width, &b.Height, &ports, &refs, &style)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ports), &b.Ports); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(refs), &b.DocumentRefs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(style), &b.Style); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateBlock(ctx context.Context, scope Scope, b *model.Block) (err error) {
	defer xdefer.Errorf(&err, "failed to create block %q", b.ID)

	nb := *b
	nb.ClampSize()
	ports, refs, style, err := marshalBlockColumns(&nb)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blocks (tenant, project, diagram, id, name, kind, stereotype, description, x, y, width, height, ports, document_refs, style)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.Tenant, scope.Project, scope.Diagram, nb.ID, nb.Name, string(nb.Kind),
		nb.Stereotype, nb.Description, nb.Pos.X, nb.Pos.Y, nb.Width, nb.Height,
		ports, refs, style)
	return err
}

func (s *SQLite) UpdateBlock(ctx context.Context, scope Scope, id string, u BlockUpdate) (err error) {
	if u.IsZero() {
		return ErrEmptyUpdate
	}
	defer xdefer.Errorf(&err, "failed to update block %q", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var b model.Block
	var ports, refs, style string
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, kind, stereotype, description, x, y, width, height, ports, document_refs, style
		FROM blocks
		WHERE tenant = ? AND project = ? AND diagram = ? AND id = ? AND deleted_at IS NULL`,
		scope.Tenant, scope.Project, scope.Diagram, id).
		Scan(&b.ID, &b.Name, &b.Kind, &b.Stereotype, &b.Description,
			&b.Pos.X, &b.Pos.Y, &b.Width, &b.Height, &ports, &refs, &style)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ports), &b.Ports); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(refs), &b.DocumentRefs); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(style), &b.Style); err != nil {
		return err
	}

	applyBlockUpdate(&b, u)

	ports, refs, style, err = marshalBlockColumns(&b)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE blocks SET name = ?, kind = ?, stereotype = ?, description = ?,
			x = ?, y = ?, width = ?, height = ?, ports = ?, document_refs = ?, style = ?
		WHERE tenant = ? AND project = ? AND diagram = ? AND id = ?`,
		b.Name, string(b.Kind), b.Stereotype, b.Description,
		b.Pos.X, b.Pos.Y, b.Width, b.Height, ports, refs, style,
		scope.Tenant, scope.Project, scope.Diagram, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) DeleteBlock(ctx context.Context, scope Scope, id string) (err error) {
	defer xdefer.Errorf(&err, "failed to delete block %q", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		UPDATE blocks SET deleted_at = ?
		WHERE tenant = ? AND project = ? AND diagram = ? AND id = ? AND deleted_at IS NULL`,
		ts, scope.Tenant, scope.Project, scope.Diagram, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	// cascade to incident connectors
	_, err = tx.ExecContext(ctx, `
		UPDATE connectors SET deleted_at = ?
		WHERE tenant = ? AND project = ? AND diagram = ? AND deleted_at IS NULL
			AND (src = ? OR dst = ?)`,
		ts, scope.Tenant, scope.Project, scope.Diagram, id, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ListConnectors(ctx context.Context, scope Scope) (_ []model.Connector, err error) {
	defer xdefer.Errorf(&err, "failed to list connectors")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, src, src_port, dst, dst_port, kind, label, overrides, document_refs
		FROM connectors
		WHERE tenant = ? AND project = ? AND diagram = ? AND deleted_at IS NULL
		ORDER BY rowid`,
		scope.Tenant, scope.Project, scope.Diagram)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Connector
	for rows.Next() {
		var c model.Connector
		var overrides, refs string
		err := rows.Scan(&c.ID, &c.Src, &c.SrcPort, &c.Dst, &c.DstPort,
			&c.Kind, &c.Label, &overrides, &refs)
		if err != nil {
			return nil, err
		}
		var o connectorOverrides
		if err := json.Unmarshal([]byte(overrides), &o); err != nil {
			return nil, err
		}
		c.LineStyle = o.LineStyle
		c.LinePattern = o.LinePattern
		c.MarkerStart = o.MarkerStart
		c.MarkerEnd = o.MarkerEnd
		c.Stroke = o.Stroke
		c.StrokeWidth = o.StrokeWidth
		if err := json.Unmarshal([]byte(refs), &c.DocumentRefs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateConnector(ctx context.Context, scope Scope, c *model.Connector) (err error) {
	defer xdefer.Errorf(&err, "failed to create connector %q", c.ID)

	if err := s.validateEndpoints(ctx, scope, c); err != nil {
		return err
	}
	overrides, refs, err := marshalConnectorColumns(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connectors (tenant, project, diagram, id, src, src_port, dst, dst_port, kind, label, overrides, document_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.Tenant, scope.Project, scope.Diagram, c.ID, c.Src, c.SrcPort,
		c.Dst, c.DstPort, string(c.Kind), c.Label, overrides, refs)
	return err
}

func (s *SQLite) UpdateConnector(ctx context.Context, scope Scope, id string, u ConnectorUpdate) (err error) {
	if u.IsZero() {
		return ErrEmptyUpdate
	}
	defer xdefer.Errorf(&err, "failed to update connector %q", id)

	connectors, err := s.ListConnectors(ctx, scope)
	if err != nil {
		return err
	}
	var c *model.Connector
	for i := range connectors {
		if connectors[i].ID == id {
			c = &connectors[i]
			break
		}
	}
	if c == nil {
		return ErrNotFound
	}

	applyConnectorUpdate(c, u)
	if err := s.validateEndpoints(ctx, scope, c); err != nil {
		return err
	}
	overrides, refs, err := marshalConnectorColumns(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE connectors SET src_port = ?, dst_port = ?, kind = ?, label = ?, overrides = ?, document_refs = ?
		WHERE tenant = ? AND project = ? AND diagram = ? AND id = ?`,
		c.SrcPort, c.DstPort, string(c.Kind), c.Label, overrides, refs,
		scope.Tenant, scope.Project, scope.Diagram, id)
	return err
}

func (s *SQLite) DeleteConnector(ctx context.Context, scope Scope, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connectors SET deleted_at = ?
		WHERE tenant = ? AND project = ? AND diagram = ? AND id = ? AND deleted_at IS NULL`,
		now(), scope.Tenant, scope.Project, scope.Diagram, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) validateEndpoints(ctx context.Context, scope Scope, c *model.Connector) error {
	blocks, err := s.ListBlocks(ctx, scope)
	if err != nil {
		return err
	}
	var src, dst *model.Block
	for i := range blocks {
		if blocks[i].ID == c.Src {
			src = &blocks[i]
		}
		if blocks[i].ID == c.Dst {
			dst = &blocks[i]
		}
	}
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

func marshalBlockColumns(b *model.Block) (ports, refs, style string, err error) {
	p, err := json.Marshal(orEmptyPorts(b.Ports))
	if err != nil {
		return "", "", "", err
	}
	r, err := json.Marshal(orEmptyStrings(b.DocumentRefs))
	if err != nil {
		return "", "", "", err
	}
	st, err := json.Marshal(b.Style)
	if err != nil {
		return "", "", "", err
	}
	return string(p), string(r), string(st), nil
}

func marshalConnectorColumns(c *model.Connector) (overrides, refs string, err error) {
	o, err := json.Marshal(connectorOverrides{
		LineStyle:   c.LineStyle,
		LinePattern: c.LinePattern,
		MarkerStart: c.MarkerStart,
		MarkerEnd:   c.MarkerEnd,
		Stroke:      c.Stroke,
		StrokeWidth: c.StrokeWidth,
	})
	if err != nil {
		return "", "", err
	}
	r, err := json.Marshal(orEmptyStrings(c.DocumentRefs))
	if err != nil {
		return "", "", err
	}
	return string(o), string(r), nil
}

func orEmptyPorts(p []model.Port) []model.Port {
	if p == nil {
		return []model.Port{}
	}
	return p
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
