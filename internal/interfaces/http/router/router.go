// Package router wires handler route declarations onto the gin engine
// under a versioned API prefix.
package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar is implemented by anything that can mount routes onto a
// gin router group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router collects registrars and mounts them under /api/<version>.
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAPIVersion overrides the default "v1" prefix segment.
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a Router bound to the given engine.
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register queues a registrar for mounting on Setup.
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts every queued registrar under the versioned prefix.
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup holds the route declarations of one API surface, such as
// credits or documents. Handlers build a group and never see the engine.
type DomainGroup struct {
	name     string
	prefix   string
	routes   []route
	children []*DomainGroup
	chain    []gin.HandlerFunc
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates an empty group with the given name and URL prefix.
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use attaches middleware covering every route in the group and its
// subgroups.
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.chain = append(dg.chain, middleware...)
	return dg
}

// Handle declares a route for an arbitrary HTTP method.
func (dg *DomainGroup) Handle(method, path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, route{method: method, path: path, handlers: handlers})
	return dg
}

// GET declares a GET route.
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle("GET", path, handlers...)
}

// POST declares a POST route.
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle("POST", path, handlers...)
}

// PUT declares a PUT route.
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle("PUT", path, handlers...)
}

// PATCH declares a PATCH route.
func (dg *DomainGroup) PATCH(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle("PATCH", path, handlers...)
}

// DELETE declares a DELETE route.
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle("DELETE", path, handlers...)
}

// Group creates and returns a nested subgroup.
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	child := NewDomainGroup(name, prefix)
	dg.children = append(dg.children, child)
	return child
}

// RegisterRoutes mounts the group onto rg, satisfying RouteRegistrar.
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.chain) > 0 {
		group.Use(dg.chain...)
	}
	for _, rt := range dg.routes {
		group.Handle(rt.method, rt.path, rt.handlers...)
	}
	for _, child := range dg.children {
		child.RegisterRoutes(group)
	}
}

// Name returns the group name.
func (dg *DomainGroup) Name() string { return dg.name }

// Prefix returns the group URL prefix.
func (dg *DomainGroup) Prefix() string { return dg.prefix }
