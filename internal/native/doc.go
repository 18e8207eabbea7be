// Package native defines the boundary between the lifecycle coordinator and
// the embedded native engine: the Engine control-plane interface, the
// settings DTO in the engine's own encodings, browser-process callbacks, and
// a registry of named engine implementations.
package native
