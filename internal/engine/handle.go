package engine

// EventHandle and JobHandle address arena entries instead of using raw
// pointers. A BlockingLink stores handles, not pointers: unblocking a
// waiter whose handle no longer resolves is a no-op map lookup rather than
// a use-after-free, which is the class of bug the original C
// implementation guards against with manual "blocker = NULL" resets
// (spec.md §9, Design Notes).
type EventHandle uint64

type JobHandle uint64

const invalidHandle = 0
