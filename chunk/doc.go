package chunk

// chunk reads and writes buffer chunks: msgpack streams of [tag, time,
// record] arrays, the format upstream buffers hand to the output stage. A
// chunk is decoded in full before it's flushed, so a corrupt chunk is
// rejected without writing any of its records.
