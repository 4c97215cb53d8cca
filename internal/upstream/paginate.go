package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

const defaultPageSize = 50

// Connection is one page of a relay-style connection: the raw nodes plus
// the pagination block the upstream returned alongside them.
type Connection struct {
	Nodes      []json.RawMessage `json:"nodes"`
	PageInfo   models.PageInfo   `json:"pageInfo"`
	TotalCount int               `json:"totalCount"`
}

// Pager lazily walks a relay-style connection with first/after variables.
// Pages are fetched on demand; callers may stop early or Reset to resume
// from a saved cursor.
type Pager struct {
	client   *Client
	doc      string
	vars     map[string]interface{}
	path     []string
	pageSize int
	cursor   string
	done     bool
}

// Paginate prepares a pager over the connection found at path (dotted,
// e.g. "team.states") inside the document's data. The document must accept
// $first and $after variables. Nothing is fetched until Next is called.
func (c *Client) Paginate(doc string, vars map[string]interface{}, path string, pageSize int) *Pager {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	return &Pager{
		client:   c,
		doc:      doc,
		vars:     vars,
		path:     strings.Split(path, "."),
		pageSize: pageSize,
	}
}

// Next fetches the following page. It returns nil once the upstream reports
// hasNextPage=false; callers that stop earlier simply abandon the pager.
func (p *Pager) Next(ctx context.Context) (*Connection, error) {
	if p.done {
		return nil, nil
	}

	vars := make(map[string]interface{}, len(p.vars)+2)
	for k, v := range p.vars {
		vars[k] = v
	}
	vars["first"] = p.pageSize
	if p.cursor != "" {
		vars["after"] = p.cursor
	}

	data, err := p.client.Execute(ctx, p.doc, vars)
	if err != nil {
		return nil, err
	}

	conn, err := connectionAt(data, p.path)
	if err != nil {
		return nil, err
	}

	p.cursor = conn.PageInfo.EndCursor
	if !conn.PageInfo.HasNextPage {
		p.done = true
	}
	return conn, nil
}

// All drains the remaining pages and returns the accumulated nodes.
func (p *Pager) All(ctx context.Context) ([]json.RawMessage, error) {
	var nodes []json.RawMessage
	for {
		conn, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if conn == nil {
			return nodes, nil
		}
		nodes = append(nodes, conn.Nodes...)
	}
}

// Cursor returns the cursor after the last fetched page, suitable for a
// later Reset.
func (p *Pager) Cursor() string { return p.cursor }

// Reset rewinds the pager to an opaque cursor; empty restarts from the
// beginning.
func (p *Pager) Reset(cursor string) {
	p.cursor = cursor
	p.done = false
}

// connectionAt walks the dotted path through nested objects and decodes the
// connection found there.
func connectionAt(data json.RawMessage, path []string) (*Connection, error) {
	cur := data
	for _, seg := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, faults.Upstream(0, "unexpected shape at %q: %v", seg, err)
		}
		next, ok := obj[seg]
		if !ok || string(next) == "null" {
			return nil, faults.Upstream(0, "missing %q in upstream response", seg)
		}
		cur = next
	}

	var conn Connection
	if err := json.Unmarshal(cur, &conn); err != nil {
		return nil, faults.Upstream(0, "decode connection at %q: %v", strings.Join(path, "."), err)
	}
	return &conn, nil
}

// UnmarshalNodes decodes raw connection nodes into a typed slice.
func UnmarshalNodes[T any](nodes []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(nodes))
	for i, n := range nodes {
		var v T
		if err := json.Unmarshal(n, &v); err != nil {
			return nil, fmt.Errorf("decode node %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
