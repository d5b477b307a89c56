package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ptgott/redisstore/chunk"
	"github.com/ptgott/redisstore/output"
	"github.com/ptgott/redisstore/redistest"
	"github.com/ptgott/redisstore/spool"
	"github.com/ptgott/redisstore/storage"
	"github.com/ptgott/redisstore/userconfig"
)

// testEnvironmentConfig exposes options that may vary between tests
type testEnvironmentConfig struct {
	storeType string
	maxLength int // 0 leaves value_length out
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment. Everything is torn down by t.Cleanup.
type testEnvironment struct {
	Redis   *redistest.InProcessServer
	Config  userconfig.Meta
	Journal *storage.BadgerDB
	Rejects *spool.Rejects
	Writer  *output.Writer

	spoolDir string
	chunks   int
}

// startTestEnvironment starts Redis, writes and parses a config file for it,
// and opens the rejects journal the way main does.
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{
		Redis:    redistest.NewInProcessServer(t),
		spoolDir: t.TempDir(),
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	err := createAppConfig(path, appConfigOptions{
		RedisHost:  te.Redis.Host(),
		RedisPort:  te.Redis.Port(),
		StoreType:  c.storeType,
		MaxLength:  c.maxLength,
		SpoolDir:   te.spoolDir,
		StorageDir: t.TempDir(),
	})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := userconfig.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("can't parse the test config: %v", err)
	}
	te.Config, err = m.CheckAndSetDefaults()
	if err != nil {
		return nil, fmt.Errorf("can't validate the test config: %v", err)
	}

	te.Journal, err = storage.NewBadgerDB(te.Config.Rejects)
	if err != nil {
		return nil, fmt.Errorf("can't open the rejects journal: %v", err)
	}
	t.Cleanup(func() { te.Journal.Close() })

	te.Rejects = spool.NewRejects(te.Journal)
	te.Writer = output.NewWriter(
		te.Redis.NewClient(),
		te.Config.Output.Config,
		output.WithSkipHandler(te.Rejects.Record),
	)

	return te, nil
}

// spoolChunk writes entries as the next chunk in the spool directory. It
// writes to a temporary name first, like upstream does.
func (te *testEnvironment) spoolChunk(t *testing.T, entries ...output.Entry) {
	t.Helper()
	te.chunks++
	p := filepath.Join(te.spoolDir, fmt.Sprintf("%06d.chunk", te.chunks))

	f, err := os.Create(p + ".tmp")
	if err != nil {
		t.Fatalf("can't create a chunk: %v", err)
	}
	if err := chunk.Encode(f, entries...); err != nil {
		f.Close()
		t.Fatalf("can't encode a chunk: %v", err)
	}
	f.Close()
	if err := os.Rename(p+".tmp", p); err != nil {
		t.Fatalf("can't rename a chunk: %v", err)
	}
}

// spooled lists what's left in the spool directory
func (te *testEnvironment) spooled(t *testing.T) []string {
	t.Helper()
	des, err := os.ReadDir(te.spoolDir)
	if err != nil {
		t.Fatalf("can't read the spool directory: %v", err)
	}
	names := make([]string, 0, len(des))
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names
}

// event is a record as upstream would send it
func event(user interface{}, message string) output.Entry {
	r := map[string]interface{}{"message": message}
	if user != nil {
		r["user"] = map[string]interface{}{"id": user}
	}
	return output.Entry{Tag: "app.events", Time: time.Now().Unix(), Record: r}
}
