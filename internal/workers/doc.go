/*
Package workers runs per-item tasks with bounded concurrency and sizes worker
pools for containerized environments.

# Bounded pool

Run fans a slice out over at most limit goroutines:

	workers.Run(files, 5, func(f string) error {
	    return upload(f)
	})

Run blocks until every item has been handled. A failing or panicking task
never stops its siblings; it is logged and the pool moves on. There is no
cancellation: callers that need to stop early do so inside task.

# Sizing

Size derives a worker count from GOMAXPROCS, which Go sets from the container
CPU limit, scaled by the kind of load:

	n := workers.Size(workers.CPUBound, 0, "DECODE_WORKERS")

A positive integer in the named environment variable pins the value.
*/
package workers
