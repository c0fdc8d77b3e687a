// Package backend dispatches work items to an execution backend.
//
// Two backends are provided: RemotePool, which fans work out to a remote
// coordinator over HTTP, and LocalExecutor, which runs items one at a time
// in-process. Selector picks between them at startup and fails over from the
// remote pool to the local executor when the pool cannot spawn workers.
//
// Worker ids belong to the backend that created them. The selector never
// hands one backend's ids to another.
package backend
