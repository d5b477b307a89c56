package spool

// spool is the host side of the output stage. Upstream buffers drop chunk
// files into a directory; on every tick, spool flushes each chunk to Redis
// and deletes the ones that were delivered. A chunk that couldn't be
// delivered stays where it is and is tried again on the next tick, which
// is the only retry policy there is.
