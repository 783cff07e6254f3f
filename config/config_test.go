package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
process_id: web
pull_interval: 500ms
store:
  driver: sqlite
  dsn: "file:configsync.db"
  migrate: true
endpoints:
  - id: search
    alternatives: [classic, ranked]
    methods: [default, probability]
    defaults:
      method: default
      default: classic
`))
	require.NoError(t, err)

	assert.Equal(t, "web", cfg.ProcessID)
	assert.Equal(t, 500*time.Millisecond, cfg.PullInterval)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "file:configsync.db", cfg.Store.DSN)
	assert.True(t, cfg.Store.Migrate)
	assert.Equal(t, 10*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)

	require.Len(t, cfg.Endpoints, 1)
	ep := cfg.Endpoints[0]
	assert.Equal(t, "search", ep.ID)
	assert.Equal(t, []string{"classic", "ranked"}, ep.Alternatives)
	assert.Equal(t, []string{"default", "probability"}, ep.Methods)
	assert.Equal(t, "classic", ep.Defaults["default"])
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.ProcessID, cfg.ProcessID)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.PullInterval)
}

func TestParse_ReplacesEtcdEndpoints(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  driver: etcd
  endpoints: ["etcd-0:2379", "etcd-1:2379"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Store.Endpoints)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("process_id: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.ProcessID = " "
	cfg.PullInterval = 0
	cfg.Store.Driver = "cassandra"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ""
	cfg.Endpoints = []EndpointConfig{
		{ID: "search", Alternatives: []string{"a"}},
		{ID: "search"},
		{Alternatives: []string{"a"}},
	}

	err := cfg.Validate()
	require.Error(t, err)

	msgs := make([]string, 0)
	for _, e := range multierr.Errors(unwrapOnce(err)) {
		msgs = append(msgs, e.Error())
	}
	assert.Contains(t, msgs, "process_id is required")
	assert.Contains(t, msgs, "pull_interval must be positive")
	assert.Contains(t, msgs, "metrics.addr is required when metrics are enabled")
	assert.Contains(t, msgs, `endpoints[1].id "search" is declared twice`)
	assert.Contains(t, msgs, "endpoints[1].alternatives must not be empty")
	assert.Contains(t, msgs, "endpoints[2].id is required")
	assert.ErrorContains(t, err, `store.driver "cassandra"`)
}

func TestValidate_DriverRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StoreConfig)
		errMsg string
	}{
		{"sql without dsn", func(s *StoreConfig) { s.Driver = DriverPostgres }, "store.dsn is required for driver postgres"},
		{"mongo without dsn", func(s *StoreConfig) { s.Driver = DriverMongoDB }, "store.dsn is required for driver mongodb"},
		{"etcd without endpoints", func(s *StoreConfig) { s.Driver = DriverEtcd; s.Endpoints = nil }, "store.endpoints is required"},
		{"bolt without path", func(s *StoreConfig) { s.Driver = DriverBolt; s.Path = "" }, "store.path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.Store)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("process_id: worker\nstore:\n  driver: bolt\n  path: /tmp/x.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.ProcessID)
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func unwrapOnce(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return u.Unwrap()
	}
	return err
}
