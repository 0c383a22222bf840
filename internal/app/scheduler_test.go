package app

import (
	"context"
	"errors"
	"testing"

	"github.com/pscheid92/livealert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLeader struct {
	acquireFn func(ctx context.Context) (bool, error)
	released  int
}

func (m *mockLeader) TryAcquire(ctx context.Context) (bool, error) { return m.acquireFn(ctx) }

func (m *mockLeader) Release(context.Context) error {
	m.released++
	return nil
}

func TestCatchupScheduler_InvalidSpec(t *testing.T) {
	_, err := NewCatchupScheduler("not a cron spec", &mockLeader{}, &mockCatchup{}, domain.ServiceTwitch)
	require.Error(t, err)
}

func TestCatchupScheduler_RunOnceAsLeader(t *testing.T) {
	leader := &mockLeader{acquireFn: func(context.Context) (bool, error) { return true, nil }}
	var gotService domain.ServiceType
	runs := 0
	catchup := &mockCatchup{fn: func(_ context.Context, service domain.ServiceType, accounts []string) error {
		runs++
		gotService = service
		assert.Nil(t, accounts)
		return nil
	}}
	s, err := NewCatchupScheduler("@every 1h", leader, catchup, domain.ServiceTwitch)
	require.NoError(t, err)

	s.RunOnce()

	assert.Equal(t, 1, runs)
	assert.Equal(t, domain.ServiceTwitch, gotService)
	assert.Equal(t, 1, leader.released)
}

func TestCatchupScheduler_FollowerSkips(t *testing.T) {
	tests := []struct {
		name    string
		acquire func(context.Context) (bool, error)
	}{
		{"lease held elsewhere", func(context.Context) (bool, error) { return false, nil }},
		{"redis unavailable", func(context.Context) (bool, error) { return false, errors.New("connection refused") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leader := &mockLeader{acquireFn: tt.acquire}
			runs := 0
			catchup := &mockCatchup{fn: func(context.Context, domain.ServiceType, []string) error {
				runs++
				return nil
			}}
			s, err := NewCatchupScheduler("@every 1h", leader, catchup, domain.ServiceTwitch)
			require.NoError(t, err)

			s.RunOnce()

			assert.Zero(t, runs)
			assert.Zero(t, leader.released)
		})
	}
}
