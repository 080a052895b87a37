/*
Package thread implements thread management and checkpoint persistence orchestration.

It serializes access to a thread's checkpoints across goroutines (and, with a
distributed locker, across replicas), allocates thread ids and enforces
optimistic versioning: a checkpoint only replaces the version it was derived from.
*/
package thread
