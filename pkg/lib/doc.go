// Package lib holds infrastructure utilities shared across this module that
// have nothing to do with any one architectural component.
//
//   - log: structured logging wrapper (pkg/lib/log)
package lib
