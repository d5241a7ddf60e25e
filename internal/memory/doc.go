// Package memory keeps image decoding inside the process's memory budget.
//
// ConfigureFromEnv derives GOMEMLIMIT from a container limit (MEMORY_LIMIT
// scaled by MEMORY_RATIO) unless GOMEMLIMIT is already set.
//
// Monitor samples the heap and, once allocation crosses the pause ratio of the
// limit, makes Wait block until usage falls below the resume ratio. The ingest
// and crop pipelines call Wait before decoding an original, so a burst of
// large uploads queues instead of exhausting memory.
package memory
