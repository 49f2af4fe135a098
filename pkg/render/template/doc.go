// Package template defines the engine-agnostic rendering contract plus the
// error type engines use to attach template context to a failure.
package template
