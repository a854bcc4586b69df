package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// pingingStore implements both Store (every accessor returns nil) and
// health.HealthPinger, letting tests control exactly what HealthPing
// reports without a real database.
type pingingStore struct {
	pingErr error
}

func (s *pingingStore) HealthPing(ctx context.Context) error { return s.pingErr }
func (s *pingingStore) Streams() Streams                     { return nil }
func (s *pingingStore) Messages() Messages                   { return nil }
func (s *pingingStore) Conversations() Conversations         { return nil }
func (s *pingingStore) Memos() Memos                         { return nil }
func (s *pingingStore) Attachments() Attachments             { return nil }

// nonPingingStore implements Store but not health.HealthPinger.
type nonPingingStore struct{}

func (s *nonPingingStore) Streams() Streams             { return nil }
func (s *nonPingingStore) Messages() Messages           { return nil }
func (s *nonPingingStore) Conversations() Conversations { return nil }
func (s *nonPingingStore) Memos() Memos                 { return nil }
func (s *nonPingingStore) Attachments() Attachments     { return nil }

func TestStoreHealthChecker_StartsUnhealthyBeforeFirstProbe(t *testing.T) {
	hc := NewStoreHealthChecker(&pingingStore{}, zerolog.Nop(), time.Second)
	assert.False(t, hc.IsHealthy())
	assert.Equal(t, "store", hc.Name())
}

func TestStoreHealthChecker_Start_BecomesHealthyOnSuccessfulPing(t *testing.T) {
	hc := NewStoreHealthChecker(&pingingStore{}, zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hc.Start(ctx, time.Hour) // runs one probe synchronously, then returns on the canceled ctx

	assert.True(t, hc.IsHealthy())
}

func TestStoreHealthChecker_Start_StaysUnhealthyOnPingError(t *testing.T) {
	hc := NewStoreHealthChecker(&pingingStore{pingErr: errors.New("db unreachable")}, zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hc.Start(ctx, time.Hour)

	assert.False(t, hc.IsHealthy())
}

func TestStoreHealthChecker_Start_UnhealthyWhenStoreHasNoHealthPing(t *testing.T) {
	hc := NewStoreHealthChecker(&nonPingingStore{}, zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hc.Start(ctx, time.Hour)

	assert.False(t, hc.IsHealthy())
}
