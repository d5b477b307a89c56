package storage

import (
	"errors"
	"fmt"
	"time"
)

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath  string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration  time.Duration `yaml:"keyTTL" json:"keyTTL"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. All three
// options are required, since a journal without a TTL would grow forever.
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	p, ok := v["storageDir"]
	if !ok || p == "" {
		return errors.New("the storage config must include a storageDir")
	}
	c.StorageDirPath = p

	t, ok := v["keyTTL"]
	if !ok {
		return errors.New("the storage config must include a keyTTL")
	}
	c.KeyTTLDuration, err = time.ParseDuration(t)
	if err != nil {
		return fmt.Errorf("can't parse the keyTTL as a duration: %v", err)
	}
	if c.KeyTTLDuration <= 0 {
		return errors.New("the keyTTL must be positive")
	}

	i, ok := v["cleanupInterval"]
	if !ok {
		return errors.New("the storage config must include a cleanupInterval")
	}
	c.CleanupInterval, err = time.ParseDuration(i)
	if err != nil {
		return fmt.Errorf("can't parse the cleanupInterval as a duration: %v", err)
	}

	return nil
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of a key or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Call fn for every live entry whose key starts with prefix, in key
	// order. Stops at the first error fn returns.
	Scan(prefix []byte, fn func(KVEntry) error) error
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
