package redistest

// redistest runs a Redis server inside the test process so unit and e2e
// tests can write real commands and inspect the resulting keys without a
// Redis installation.
