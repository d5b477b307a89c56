package e2e

// e2e contains integration tests that run the whole flush path: a YAML config
// file, a spool directory of chunks, the rejects journal and an in-process
// Redis server. Test helpers shared with unit tests live in redistest.
