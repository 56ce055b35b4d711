package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/campushub/approval-api/pkg/errors"
)

type memCacheRepo struct {
	entries map[string][]byte
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: make(map[string][]byte)}
}

func (m *memCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	svc := NewCacheService(newMemCacheRepo(), nil, time.Minute, nil, true)

	var out []string
	hit, err := svc.Get(context.Background(), "requests:pending:REGISTRAR:100:0", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(context.Background(), "requests:pending:REGISTRAR:100:0", []string{"r1"}, 0))

	hit, err = svc.Get(context.Background(), "requests:pending:REGISTRAR:100:0", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"r1"}, out)
}

func TestCacheServiceInvalidate(t *testing.T) {
	repo := newMemCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	require.NoError(t, svc.Set(context.Background(), "requests:pending:REGISTRAR:100:0", []string{"r1"}, 0))
	require.NoError(t, svc.Invalidate(context.Background(), "requests:pending:*"))

	var out []string
	hit, err := svc.Get(context.Background(), "requests:pending:REGISTRAR:100:0", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServiceDisabled(t *testing.T) {
	svc := NewCacheService(nil, nil, 0, nil, false)
	assert.False(t, svc.Enabled())

	hit, err := svc.Get(context.Background(), "key", nil)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, svc.Set(context.Background(), "key", "value", 0))
	require.NoError(t, svc.Invalidate(context.Background(), "key*"))
}
