package output

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Defaults for options the user leaves out
const (
	defaultHost           = "localhost"
	defaultPort           = 6379
	defaultTimeout        = 5.0 // seconds
	defaultScoreIncrement = 1.0
	disabled              = -1
)

// StoreKind is the Redis data structure records are written to
type StoreKind int

const (
	SortedSet StoreKind = iota
	SortedSetIncrement
	Set
	List
	String
)

var storeKindNames = map[StoreKind]string{
	SortedSet:          "zset",
	SortedSetIncrement: "zincrby",
	Set:                "set",
	List:               "list",
	String:             "string",
}

func (k StoreKind) String() string {
	if n, ok := storeKindNames[k]; ok {
		return n
	}
	return "StoreKind(" + strconv.Itoa(int(k)) + ")"
}

// Bounded reports whether collections of this kind can be trimmed. Sets and
// strings have no ordering, so there's nothing to trim from.
func (k StoreKind) Bounded() bool {
	return k == SortedSet || k == SortedSetIncrement || k == List
}

// ParseStoreKind accepts the store_type names used in config files
func ParseStoreKind(s string) (StoreKind, error) {
	for k, n := range storeKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, invalid("unknown store_type %q (expected zset, zincrby, set, list or string)", s)
}

// Order decides which end of a list new values are pushed to and which end
// of a list or sorted set is trimmed.
type Order int

const (
	// Ascending pushes to the tail of lists and keeps the newest (highest
	// scored) sorted set members.
	Ascending Order = iota
	// Descending pushes to the head of lists and keeps the lowest scored
	// sorted set members.
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseOrder accepts "asc" and "desc", plus the spelled-out forms
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return 0, invalid("unknown order %q (expected asc or desc)", s)
}

// Config is the validated form of the output options. Build it once with
// ParseOptions and don't change it afterwards; Writers share it across
// goroutines.
type Config struct {
	// Connection settings, only used to build the Redis client
	Host    string
	Port    int
	DB      *int // nil means the server default
	Timeout time.Duration
	// Client implementation hint carried over from older configs. go-redis
	// is the only driver, so this is only logged.
	Driver string

	KeyPrefix string
	KeySuffix string
	Kind      StoreKind

	// Exactly one of these produces the key. FixedKey wins if both are set.
	KeyPath  string
	FixedKey string

	// SortedSet only. Empty means "use the current Unix time".
	ScorePath string
	// SortedSetIncrement only
	ScoreIncrement float64

	ValuePath string

	// Seconds. Zero or less disables the feature.
	KeyExpire   int64
	ValueExpire int64 // SortedSet only
	MaxLength   int64

	Order Order
}

// ParseOptions validates raw option strings, e.g. the "output" section of
// the config file, and applies defaults. Any error wraps
// ErrInvalidConfiguration.
func ParseOptions(opts map[string]string) (Config, error) {
	c := Config{
		Host:           defaultHost,
		Port:           defaultPort,
		Timeout:        secondsToDuration(defaultTimeout),
		ScoreIncrement: defaultScoreIncrement,
		KeyExpire:      disabled,
		ValueExpire:    disabled,
		MaxLength:      disabled,
		Order:          Ascending,
		Kind:           SortedSet,
	}

	if h, ok := opts["host"]; ok && h != "" {
		c.Host = h
	}

	if p, ok := opts["port"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Config{}, invalid("can't parse the port as an integer: %v", err)
		}
		if n <= 0 || n > 65535 {
			return Config{}, invalid("port %v is out of range", n)
		}
		c.Port = n
	}

	if d, ok := opts["db_number"]; ok && d != "" {
		n, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return Config{}, invalid("can't parse db_number as an integer: %v", err)
		}
		if n < 0 {
			return Config{}, invalid("db_number can't be negative")
		}
		c.DB = &n
	}

	if t, ok := opts["timeout"]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return Config{}, invalid("can't parse the timeout as a number of seconds: %v", err)
		}
		if f <= 0 {
			return Config{}, invalid("the timeout must be positive")
		}
		c.Timeout = secondsToDuration(f)
	}

	c.Driver = opts["driver"]
	c.KeyPrefix = opts["key_prefix"]
	c.KeySuffix = opts["key_suffix"]

	if s, ok := opts["store_type"]; ok && s != "" {
		k, err := ParseStoreKind(s)
		if err != nil {
			return Config{}, err
		}
		c.Kind = k
	}

	c.KeyPath = opts["key_name"]
	c.FixedKey = opts["fixed_key_value"]
	c.ScorePath = opts["score_name"]

	if i, ok := opts["increment_score"]; ok && i != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(i), 64)
		if err != nil {
			return Config{}, invalid("can't parse increment_score as a number: %v", err)
		}
		c.ScoreIncrement = f
	}

	c.ValuePath = opts["value_name"]
	if c.ValuePath == "" {
		return Config{}, invalid("value_name is required")
	}

	var err error
	if c.KeyExpire, err = parseInt(opts, "key_expire"); err != nil {
		return Config{}, err
	}
	if c.ValueExpire, err = parseInt(opts, "value_expire"); err != nil {
		return Config{}, err
	}
	if c.MaxLength, err = parseInt(opts, "value_length"); err != nil {
		return Config{}, err
	}

	// list_order is the older name for order. order wins.
	o, ok := opts["order"]
	if !ok || o == "" {
		o, ok = opts["list_order"]
	}
	if ok && o != "" {
		if c.Order, err = ParseOrder(o); err != nil {
			return Config{}, err
		}
	}

	if c.KeyPath == "" && c.FixedKey == "" {
		log.Warn().Msg(
			"neither key_name nor fixed_key_value is set, so every record will be skipped",
		)
	}

	return c, nil
}

// RedisOptions builds client options from the connection settings. The
// timeout applies to dialing as well as to each command.
func (c Config) RedisOptions() *redis.Options {
	o := &redis.Options{
		Addr:         c.Addr(),
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	}
	if c.DB != nil {
		o.DB = *c.DB
	}
	return o
}

// Addr returns the host:port of the Redis server
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// trimmed reports whether writes need a trim afterwards
func (c Config) trimmed() bool {
	return c.MaxLength > 0 && c.Kind.Bounded()
}

// parseInt reads an integer option that defaults to disabled
func parseInt(opts map[string]string, name string) (int64, error) {
	v, ok := opts[name]
	if !ok || strings.TrimSpace(v) == "" {
		return disabled, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, invalid("can't parse %v as an integer: %v", name, err)
	}
	return n, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
