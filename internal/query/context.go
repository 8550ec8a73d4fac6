// Package query builds backend-neutral query plans from resolved resource
// paths and renders them as SQL statements.
package query

import (
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/scope"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// JoinOrigin records why a join was introduced.
type JoinOrigin int

const (
	// OriginPath joins come from navigation segments of the resource path.
	OriginPath JoinOrigin = iota
	// OriginExpand joins come from $expand.
	OriginExpand
	// OriginExpression joins come from members of $filter or $orderby.
	OriginExpression
)

// Join is one aliased entity reachable from the root.
type Join struct {
	Alias string
	// LinkAlias aliases the join table of a many-to-many navigation.
	LinkAlias  string
	Parent     string
	Path       string
	Navigation *edm.NavigationProperty
	Type       *edm.EntityType
	Origin     JoinOrigin
	Keys       []uri.KeyPredicate

	// Expanded is set when the join is fetched as inline content.
	Expanded bool
	// Referenced is set when a $filter or $orderby member reads the join in
	// the main statement.
	Referenced bool
}

// ExpandNode is one level of the expand tree.
type ExpandNode struct {
	Join     *Join
	Children []*ExpandNode
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Expr       *Expr
	Descending bool
}

// Limits bound what a request may ask for. Zero values disable a limit.
type Limits struct {
	// PageSize enables server-driven paging of collections.
	PageSize       int
	MaxTop         int
	MaxExpandDepth int
}

// Context is the query plan of one request. It is immutable after Build.
type Context struct {
	Kind      uri.ResourceKind
	Root      *edm.EntityType
	RootAlias string
	RootKeys  []uri.KeyPredicate
	// Joins holds every aliased entity in alias order.
	Joins []*Join
	// Target is the alias of the addressed entities.
	Target     string
	TargetType *edm.EntityType

	Filter  *Expr
	OrderBy []OrderTerm
	Skip    int
	Top     *int
	// Paged is set when Top was capped by the server page size.
	Paged bool
	// TokenOffset is the part of Skip that came from $skiptoken.
	TokenOffset int

	CountRequested bool
	Count          bool
	Single         bool

	Expand []*ExpandNode
	Select []uri.SelectItem
	Scopes []scope.QueryScope

	nextAlias int
	paths     map[string]*Join
}

// Aliases returns the aliases in assignment order, starting with the root.
func (c *Context) Aliases() []string {
	out := []string{c.RootAlias}
	for _, j := range c.Joins {
		out = append(out, j.Alias)
	}
	return out
}

// AliasFor returns the alias of a navigation path relative to the target,
// such as "Room/Building".
func (c *Context) AliasFor(path string) (string, bool) {
	j, ok := c.paths[path]
	if !ok {
		return "", false
	}
	return j.Alias, true
}

// Join returns the join with the given alias, or nil.
func (c *Context) Join(alias string) *Join {
	for _, j := range c.Joins {
		if j.Alias == alias {
			return j
		}
	}
	return nil
}

func (c *Context) newAlias() string {
	c.nextAlias++
	return "E" + strconv.Itoa(c.nextAlias)
}

func (c *Context) addJoin(parent string, nav *edm.NavigationProperty, origin JoinOrigin) *Join {
	j := &Join{
		Alias:      c.newAlias(),
		Parent:     parent,
		Navigation: nav,
		Type:       nav.Target,
		Origin:     origin,
	}
	if nav.Association.Join.JoinTable != "" {
		links := 0
		for _, other := range c.Joins {
			if other.LinkAlias != "" {
				links++
			}
		}
		j.LinkAlias = "J" + strconv.Itoa(links+1)
	}
	c.Joins = append(c.Joins, j)
	return j
}

// navigationJoin returns the join for a target-relative navigation path,
// creating it on first use.
func (c *Context) navigationJoin(path, parent string, nav *edm.NavigationProperty, origin JoinOrigin) *Join {
	if j, ok := c.paths[path]; ok {
		return j
	}
	j := c.addJoin(parent, nav, origin)
	j.Path = path
	c.paths[path] = j
	return j
}

// Build turns a resolved path and its validated options into a query plan.
// Aliases are assigned in a fixed order: the root entity, the navigation
// segments of the path, the $expand paths and finally the navigation paths
// read by $filter and $orderby.
func Build(path *uri.ResourcePath, opts *uri.QueryOptions, limits Limits, scopes ...scope.QueryScope) (*Context, error) {
	if path.EntitySet == nil {
		return nil, odataerr.Semantic(odataerr.KeyUnsupportedQuery, path.Kind.String())
	}
	if opts == nil {
		opts = &uri.QueryOptions{}
	}

	c := &Context{
		Kind:     path.Kind,
		Root:     path.EntitySet.Type,
		RootKeys: path.Keys,
		Count:    path.Count,
		Single:   !path.TargetIsCollection(),
		Select:   opts.Select,
		Scopes:   scopes,
		paths:    make(map[string]*Join),
	}
	c.RootAlias = c.newAlias()
	c.Target = c.RootAlias
	c.TargetType = c.Root

	for _, seg := range path.Navigation {
		j := c.addJoin(c.Target, seg.Property, OriginPath)
		j.Keys = seg.Keys
		c.Target = j.Alias
		c.TargetType = j.Type
	}

	if err := c.buildExpand(opts.Expand, limits.MaxExpandDepth); err != nil {
		return nil, err
	}

	if opts.Filter != nil {
		f, err := c.translate(opts.Filter)
		if err != nil {
			return nil, err
		}
		if f.Type != edm.KindBoolean {
			return nil, odataerr.Semantic(odataerr.KeyTypeMismatch, "$filter", string(f.Type), string(edm.KindBoolean))
		}
		c.Filter = f
	}
	for _, item := range opts.OrderBy {
		e, err := c.translate(item.Expression)
		if err != nil {
			return nil, err
		}
		c.OrderBy = append(c.OrderBy, OrderTerm{Expr: e, Descending: item.Descending})
	}

	if err := c.paginate(opts, limits); err != nil {
		return nil, err
	}
	c.CountRequested = opts.InlineCount == uri.InlineCountAllPages
	return c, nil
}

func (c *Context) buildExpand(paths [][]string, maxDepth int) error {
	nodes := make(map[string]*ExpandNode)
	for _, p := range paths {
		if maxDepth > 0 && len(p) > maxDepth {
			return odataerr.Semantic(odataerr.KeyExpandDepth, strings.Join(p, "/"), maxDepth)
		}

		current := c.TargetType
		parent := c.Target
		var parentNode *ExpandNode
		for i, name := range p {
			nav := current.NavigationProperty(name)
			if nav == nil {
				return odataerr.Semantic(odataerr.KeyNotNavigable, name, current.Name.String())
			}
			key := strings.Join(p[:i+1], "/")
			j := c.navigationJoin(key, parent, nav, OriginExpand)
			j.Expanded = true

			node, ok := nodes[key]
			if !ok {
				node = &ExpandNode{Join: j}
				nodes[key] = node
				if parentNode == nil {
					c.Expand = append(c.Expand, node)
				} else {
					parentNode.Children = append(parentNode.Children, node)
				}
			}
			parentNode = node
			current = nav.Target
			parent = j.Alias
		}
	}
	return nil
}

func (c *Context) paginate(opts *uri.QueryOptions, limits Limits) error {
	if opts.Skip != nil {
		c.Skip = *opts.Skip
	}
	if opts.SkipToken != "" {
		offset, err := strconv.Atoi(opts.SkipToken)
		if err != nil || offset < 0 {
			return odataerr.Syntax(odataerr.KeyInvalidOptionValue, opts.SkipToken, string(uri.OptionSkipToken))
		}
		c.Skip += offset
		c.TokenOffset = offset
	}
	if opts.Top != nil {
		if limits.MaxTop > 0 && *opts.Top > limits.MaxTop {
			return odataerr.Syntax(odataerr.KeyInvalidOptionValue, strconv.Itoa(*opts.Top), string(uri.OptionTop))
		}
		top := *opts.Top
		c.Top = &top
	}

	if limits.PageSize > 0 && !c.Single && !c.Count && (c.Top == nil || *c.Top > limits.PageSize) {
		size := limits.PageSize
		c.Top = &size
		c.Paged = true
	}
	return nil
}

// NextSkipToken returns the $skiptoken of the page after this one.
func (c *Context) NextSkipToken() string {
	if c.Top == nil {
		return ""
	}
	return strconv.Itoa(c.TokenOffset + *c.Top)
}
