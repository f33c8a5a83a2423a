package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/keypair"
	"github.com/systmms/keywarden/pkg/lifecycle"
	"github.com/systmms/keywarden/pkg/provision"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCoordinator(now time.Time) (*Coordinator, *account.MemoryRegistry, *provision.Fake) {
	registry := account.NewMemoryRegistry()
	fake := provision.NewFake()
	coord := NewCoordinator(registry, fake, logging.New(false, true)).WithClock(fixedClock(now))
	return coord, registry, fake
}

// openKey extracts the private key PEM from an issuance result and
// destroys the plaintext buffer.
func openKey(t *testing.T, issued *Issued) string {
	t.Helper()
	locked, err := issued.Key.Open()
	require.NoError(t, err)
	defer locked.Destroy()
	return string(locked.Bytes())
}

func TestGenerate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("issues_full_credential", func(t *testing.T) {
		coord, registry, fake := newTestCoordinator(now)

		issued, err := coord.Generate(ctx, GenerateRequest{
			Username:     "svc_etl",
			Purpose:      "Airflow ETL",
			Role:         "ANALYST",
			ValidityDays: 90,
		})
		require.NoError(t, err)

		assert.Equal(t, "svc_etl", issued.Summary.Username)
		assert.Equal(t, now.Add(90*24*time.Hour), issued.Summary.ExpiresAt)
		assert.Equal(t, lifecycle.StatusActive, issued.Summary.Status)
		assert.True(t, issued.Provisioned)
		assert.NoError(t, issued.ProvisioningErr)

		record, err := registry.Get("svc_etl")
		require.NoError(t, err)
		assert.True(t, record.ProvisionedRemotely)
		assert.True(t, fake.Accepts("svc_etl", record.PublicKeyPEM, now))
		assert.Equal(t, "ANALYST", fake.Role("svc_etl"))

		t.Run("private_key_matches_stored_public_key", func(t *testing.T) {
			privatePEM := openKey(t, issued)
			derived, err := keypair.PublicKeyFor(privatePEM)
			require.NoError(t, err)
			assert.Equal(t, record.PublicKeyPEM, derived)
		})

		t.Run("key_unavailable_after_destroy", func(t *testing.T) {
			issued.Key.Destroy()
			_, err := issued.Key.Open()
			assert.Error(t, err)
		})
	})

	t.Run("defaults_applied", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(now)

		issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_default"})
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Duration(DefaultValidityDays)*24*time.Hour), issued.Summary.ExpiresAt)
	})

	t.Run("validity_out_of_bounds", func(t *testing.T) {
		coord, registry, _ := newTestCoordinator(now)

		for _, days := range []int{29, 366, -1} {
			_, err := coord.Generate(ctx, GenerateRequest{Username: "svc_bad", ValidityDays: days})
			require.Error(t, err, "validity %d", days)
			assert.True(t, kwerrors.IsKind(err, kwerrors.KindInvalidParameter))
		}

		// Nothing committed on validation failure.
		_, err := registry.Get("svc_bad")
		assert.True(t, kwerrors.IsKind(err, kwerrors.KindNotFound))
	})

	t.Run("duplicate_username", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(now)

		_, err := coord.Generate(ctx, GenerateRequest{Username: "svc_etl"})
		require.NoError(t, err)
		_, err = coord.Generate(ctx, GenerateRequest{Username: "svc_etl"})
		assert.True(t, kwerrors.IsKind(err, kwerrors.KindDuplicateUsername))
	})

	t.Run("provisioning_failure_is_partial_success", func(t *testing.T) {
		coord, registry, fake := newTestCoordinator(now)
		fake.FailWith = errors.New("warehouse unreachable")

		issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_etl", ValidityDays: 90})
		require.NoError(t, err)

		assert.False(t, issued.Provisioned)
		assert.Error(t, issued.ProvisioningErr)
		assert.NotEmpty(t, openKey(t, issued))

		// Local record committed despite the remote failure.
		record, err := registry.Get("svc_etl")
		require.NoError(t, err)
		assert.False(t, record.ProvisionedRemotely)
		assert.NotEmpty(t, record.PublicKeyPEM)
	})

	t.Run("provisioning_errors_recorded_without_key_material", func(t *testing.T) {
		coord, _, fake := newTestCoordinator(now)
		fake.FailWith = errors.New(
			"statement rejected: -----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----")

		issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_leak", ValidityDays: 90})
		require.NoError(t, err)
		issued.Key.Destroy()

		var detail string
		for _, entry := range issued.AuditTrail {
			if entry.Action == "provisioning_failed" {
				detail = entry.Detail
			}
		}
		require.NotEmpty(t, detail)
		assert.NotContains(t, detail, "BEGIN PUBLIC KEY")
		assert.Contains(t, detail, "[REDACTED PEM]")
	})
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, coord *Coordinator) string {
		issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_etl", Role: "ANALYST", ValidityDays: 90})
		require.NoError(t, err)
		issued.Key.Destroy()
		return issued.Summary.Username
	}

	t.Run("swaps_key_with_grace_window", func(t *testing.T) {
		coord, registry, fake := newTestCoordinator(createdAt)
		seed(t, coord)

		before, err := registry.Get("svc_etl")
		require.NoError(t, err)
		oldKey := before.PublicKeyPEM

		rotatedAt := createdAt.Add(60 * 24 * time.Hour)
		coord.WithClock(fixedClock(rotatedAt))

		issued, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
		require.NoError(t, err)
		assert.True(t, issued.Provisioned)

		after, err := registry.Get("svc_etl")
		require.NoError(t, err)
		assert.NotEqual(t, oldKey, after.PublicKeyPEM)
		assert.Equal(t, oldKey, after.PreviousPublicKeyPEM)
		require.NotNil(t, after.PreviousKeyGraceUntil)
		assert.Equal(t, rotatedAt.Add(GracePeriod), *after.PreviousKeyGraceUntil)
		assert.Equal(t, rotatedAt.Add(90*24*time.Hour), after.ExpiresAt)
		assert.Equal(t, rotatedAt, after.LastRotatedAt)

		t.Run("grace_reported_in_summary", func(t *testing.T) {
			assert.True(t, after.InGrace(rotatedAt.Add(23*time.Hour)))
			assert.False(t, after.InGrace(rotatedAt.Add(24*time.Hour)))
		})

		t.Run("new_key_accepted_remotely", func(t *testing.T) {
			assert.True(t, fake.Accepts("svc_etl", after.PublicKeyPEM, rotatedAt))
		})
	})

	t.Run("expired_credential_returns_to_active", func(t *testing.T) {
		coord, registry, _ := newTestCoordinator(createdAt)
		seed(t, coord)

		// Well past the 90-day expiry.
		rotatedAt := createdAt.Add(120 * 24 * time.Hour)
		coord.WithClock(fixedClock(rotatedAt))

		before, err := registry.Get("svc_etl")
		require.NoError(t, err)
		require.Equal(t, lifecycle.StatusExpired, before.Status(rotatedAt))

		issued, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusActive, issued.Summary.Status)

		// Grace anchors on the rotation instant even though the old
		// key had long expired.
		after, err := registry.Get("svc_etl")
		require.NoError(t, err)
		require.NotNil(t, after.PreviousKeyGraceUntil)
		assert.Equal(t, rotatedAt.Add(GracePeriod), *after.PreviousKeyGraceUntil)
	})

	t.Run("unknown_account", func(t *testing.T) {
		coord, _, _ := newTestCoordinator(createdAt)

		_, err := coord.Rotate(ctx, RotateRequest{Username: "svc_missing"})
		assert.True(t, kwerrors.IsKind(err, kwerrors.KindNotFound))
	})

	t.Run("provisioning_failure_keeps_local_rotation", func(t *testing.T) {
		coord, registry, fake := newTestCoordinator(createdAt)
		seed(t, coord)

		fake.FailWith = errors.New("warehouse unreachable")
		rotatedAt := createdAt.Add(30 * 24 * time.Hour)
		coord.WithClock(fixedClock(rotatedAt))

		issued, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
		require.NoError(t, err)
		assert.False(t, issued.Provisioned)
		assert.Error(t, issued.ProvisioningErr)

		after, err := registry.Get("svc_etl")
		require.NoError(t, err)
		assert.False(t, after.ProvisionedRemotely)
		assert.Equal(t, rotatedAt, after.LastRotatedAt)
		assert.NotEmpty(t, after.PreviousPublicKeyPEM)
	})
}

// stalledProvisioner parks the first UpdatePublicKey call until
// released, simulating a rotation stuck mid-provisioning.
type stalledProvisioner struct {
	*provision.Fake
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stalledProvisioner) UpdatePublicKey(ctx context.Context, username, publicKeyPEM string) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Fake.UpdatePublicKey(ctx, username, publicKeyPEM)
}

func TestRotateHoldsAccountThroughProvisioning(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	registry := account.NewMemoryRegistry()
	prov := &stalledProvisioner{
		Fake:    provision.NewFake(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	coord := NewCoordinator(registry, prov, logging.New(false, true)).WithClock(fixedClock(now))

	issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_etl", ValidityDays: 90})
	require.NoError(t, err)
	issued.Key.Destroy()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		res, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
		assert.NoError(t, err)
		res.Key.Destroy()
	}()
	<-prov.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		res, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
		assert.NoError(t, err)
		res.Key.Destroy()
	}()

	// The second rotation must wait: if it could run while the first
	// is parked inside provisioning, the first would later install its
	// superseded key remotely and mark the newer record provisioned.
	select {
	case <-secondDone:
		t.Fatal("second rotation completed while the first was still provisioning")
	case <-time.After(50 * time.Millisecond):
	}

	close(prov.release)
	<-firstDone
	<-secondDone

	record, err := registry.Get("svc_etl")
	require.NoError(t, err)
	assert.True(t, record.ProvisionedRemotely)
	assert.Equal(t, record.PublicKeyPEM, prov.CurrentKey("svc_etl"),
		"provisioned flag must refer to the key the warehouse actually holds")
}

func TestConcurrentRotationsSerialize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	coord, registry, _ := newTestCoordinator(now)

	issued, err := coord.Generate(ctx, GenerateRequest{Username: "svc_etl", ValidityDays: 90})
	require.NoError(t, err)
	issued.Key.Destroy()

	const rotations = 8
	var wg sync.WaitGroup
	results := make([]*Issued, rotations)
	wg.Add(rotations)
	for i := 0; i < rotations; i++ {
		go func(idx int) {
			defer wg.Done()
			res, err := coord.Rotate(ctx, RotateRequest{Username: "svc_etl", ValidityDays: 90})
			assert.NoError(t, err)
			results[idx] = res
		}(i)
	}
	wg.Wait()

	// Every rotation observed a consistent base: the final stored
	// current key must be the new key of exactly one rotation, and its
	// previous key the new key of another (or the original).
	final, err := registry.Get("svc_etl")
	require.NoError(t, err)

	issuedKeys := make(map[string]bool)
	for _, res := range results {
		require.NotNil(t, res)
		privatePEM := openKey(t, res)
		derived, err := keypair.PublicKeyFor(privatePEM)
		require.NoError(t, err)
		issuedKeys[derived] = true
		res.Key.Destroy()
	}

	assert.Len(t, issuedKeys, rotations, "each rotation issued a distinct key")
	assert.True(t, issuedKeys[final.PublicKeyPEM], "stored key came from one of the rotations")
	assert.NotEqual(t, final.PublicKeyPEM, final.PreviousPublicKeyPEM)
}

func TestBulkGenerate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	coord, registry, _ := newTestCoordinator(now)

	requests := make([]GenerateRequest, 0, 12)
	for i := 0; i < 10; i++ {
		requests = append(requests, GenerateRequest{
			Username:     fmt.Sprintf("svc_%02d", i),
			ValidityDays: 90,
		})
	}
	// Two poisoned requests mixed in: invalid validity and a duplicate.
	requests = append(requests,
		GenerateRequest{Username: "svc_bad_validity", ValidityDays: 10},
		GenerateRequest{Username: "svc_05", ValidityDays: 90},
	)

	results := coord.BulkGenerate(ctx, requests)
	require.Len(t, results, 12)

	t.Run("results_in_request_order", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.Equal(t, fmt.Sprintf("svc_%02d", i), results[i].Username)
		}
	})

	t.Run("failures_isolated", func(t *testing.T) {
		assert.True(t, kwerrors.IsKind(results[10].Err, kwerrors.KindInvalidParameter))

		// The two svc_05 requests race; exactly one wins.
		var succeeded, duplicates int
		for _, res := range results {
			switch {
			case res.Err == nil:
				succeeded++
				res.Issued.Key.Destroy()
			case kwerrors.IsKind(res.Err, kwerrors.KindDuplicateUsername):
				duplicates++
			}
		}
		assert.Equal(t, 10, succeeded)
		assert.Equal(t, 1, duplicates)
	})

	t.Run("registry_reflects_successes_only", func(t *testing.T) {
		agg := registry.Aggregate(now)
		assert.Equal(t, 10, agg.Total)
	})
}
