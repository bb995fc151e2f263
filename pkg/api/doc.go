// Package api defines the wire types shared between the orchestrator and the
// engines it fronts: the uniform response envelope, typed call outcomes, flow
// results, audit events, and health reports.
package api
