package output

// output turns batches of records into Redis writes. A Config decides which
// Redis data structure a record lands in (sorted set, incrementing sorted
// set, set, list or string), how its key, member and score are pulled out of
// the record, and whether keys expire and collections are trimmed to a fixed
// length. The package knows nothing about where batches come from; callers
// hand a Writer a slice of Entries and get back a FlushResult.
