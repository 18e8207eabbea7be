// Package engine coordinates the process-wide lifecycle of the embedded
// native engine: initialization and its asynchronous readiness signal,
// thread-affine task dispatch, tracking of engine-dependent resources, and
// ordered shutdown.
//
// Initialize, Shutdown and ShutdownWithoutChecks must be called on the host
// main thread. Continuations registered on the readiness Future run on the
// engine UI thread, so code chained after InitializeAsync migrates threads.
package engine
