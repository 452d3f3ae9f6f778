// Package engine owns compiled rendering state for the conversion worker.
//
// An Instance is a pongo2 template set bound to one source format and template
// root, optionally specialised with a per-request override mapping. The Cache
// keeps at most one shared Instance per format plus a compiled-template cache
// keyed by template identifier; both are reset by InvalidateAll.
//
// pongo2 filters are process-wide, so nothing that depends on the request is
// registered there. Request state travels in a Scope stored on the
// context.Context handed to Template.Render, and the helpers that need it
// (evaluate, template_root, ...) are bound from that context on every render.
package engine
