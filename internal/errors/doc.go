// Package errors defines error types for the simulator bridge.
//
// This package provides structured error types that wrap the different
// failure scenarios when talking to a simulator process over the bridge
// protocol. All error types support error unwrapping and can be checked
// using errors.Is, errors.As, and errors.AsType.
package errors
