package etcdstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/getpup/configsync"
	"github.com/stretchr/testify/assert"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestNormalizeNamespace(t *testing.T) {
	assert.Equal(t, DefaultNamespace, normalizeNamespace(""))
	assert.Equal(t, "apps/search/", normalizeNamespace("apps/search"))
	assert.Equal(t, "apps/", normalizeNamespace("apps/"))
}

func TestActionKey_OrdersByLogicalTime(t *testing.T) {
	early := actionKey(configsync.ActionRecord{ID: "zzz", LogicalTime: 99})
	late := actionKey(configsync.ActionRecord{ID: "aaa", LogicalTime: 100})

	assert.Equal(t, "actions/0000000000000000099/zzz", early)
	assert.Less(t, early, late)
}

func TestDecodeAlternative(t *testing.T) {
	rec := decodeAlternative("search", []byte(`{"config":{"limit":10},"logical_time":42}`))
	assert.Equal(t, "search", rec.EndpointID)
	assert.Equal(t, int64(42), rec.LogicalTime)
	assert.Equal(t, configsync.Config{"limit": 10}, rec.Config)

	rec = decodeAlternative("search", []byte(`{"config":"oops","logical_time":7}`))
	assert.Nil(t, rec.Config)
	assert.Equal(t, int64(7), rec.LogicalTime)

	rec = decodeAlternative("search", []byte(`garbage`))
	assert.Nil(t, rec.Config)
	assert.Zero(t, rec.LogicalTime)
}

func TestOpen_RequiresEndpoints(t *testing.T) {
	_, err := Open(t.Context(), Config{})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"localhost:2379"}, cfg.Endpoints)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"no leader", rpctypes.ErrNoLeader, true},
		{"leader changed", rpctypes.ErrLeaderChanged, true},
		{"timeout", rpctypes.ErrTimeout, true},
		{"no endpoints", clientv3.ErrNoAvailableEndpoints, true},
		{"wrapped", fmt.Errorf("get: %w", rpctypes.ErrNoLeader), true},
		{"member not found", rpctypes.ErrMemberNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.unavailable, configsync.IsUnavailable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
