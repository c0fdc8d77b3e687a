// Package coordinator serves the remote worker pool that backend.RemotePool
// talks to.
//
// Workers are logical slots tracked by id. A batch runs its tasks on a
// bounded goroutine pool through an injected backend.TaskHandler. When the
// batch timeout expires, running tasks are canceled and given a cleanup
// wait; tasks that still have not finished are left out of the response.
package coordinator
