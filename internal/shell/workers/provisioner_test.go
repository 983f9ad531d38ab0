package workers

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provisionerTestKey is a real 32-byte AES key; provisioner tests encrypt
// generated SSH keys for storage.
var provisionerTestKey = []byte("0123456789abcdef0123456789abcdef")

// =============================================================================
// Test Configuration
// =============================================================================

func TestDefaultProvisionerConfig(t *testing.T) {
	config := DefaultProvisionerConfig()

	assert.Equal(t, 5*time.Second, config.Interval)
	assert.Equal(t, 3, config.MaxConcurrent)
}

func TestNewProvisioner_DefaultConfig(t *testing.T) {
	s := workerStore(t)
	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, nil)

	assert.NotNil(t, p)
	assert.Equal(t, 5*time.Second, p.config.Interval)
	assert.Equal(t, 3, p.config.MaxConcurrent)
}

// =============================================================================
// Test Lifecycle
// =============================================================================

func TestProvisioner_StartStop(t *testing.T) {
	s := workerStore(t)

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{
		Interval: 100 * time.Millisecond,
	}, slog.Default())

	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	// Should be able to start again
	p.Start()
	p.Stop()
}

// =============================================================================
// Test Provisioning
// =============================================================================

func TestProvisioner_MissingCredentialFailsProvision(t *testing.T) {
	s := workerStore(t)

	prov, err := domain.NewCloudProvision("cred_missing", domain.ProviderHetzner, "bakery-node-1", "fsn1", "cx22")
	require.NoError(t, err)
	require.NoError(t, s.CreateCloudProvision(context.Background(), prov))

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, slog.Default())
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	p.runCycle()

	got, err := s.GetCloudProvision(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvisionStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "credentials")

	// The SSH key generated for the instance was still persisted; destroy
	// cleans it up later.
	assert.NotEmpty(t, got.SSHKeyID)
	key, err := s.GetSSHKey(context.Background(), got.SSHKeyID)
	require.NoError(t, err)
	assert.Contains(t, key.Name, "bakery-node-1")
	assert.NotEmpty(t, key.PublicKey)
}

func TestProvisioner_FinalizeSuffixesTakenNodeName(t *testing.T) {
	s := workerStore(t)

	existing, err := domain.NewNode("bakery-node-1", "198.51.100.10", "root", 22)
	require.NoError(t, err)
	require.NoError(t, s.CreateNode(context.Background(), existing))

	// The VM came up; only node registration is left.
	prov, err := domain.NewCloudProvision("cred_1", domain.ProviderHetzner, "bakery-node-1", "fsn1", "cx22")
	require.NoError(t, err)
	require.NoError(t, prov.Transition(domain.ProvisionStatusCreating))
	require.NoError(t, prov.Transition(domain.ProvisionStatusConfiguring))
	prov.PublicIP = "198.51.100.11"
	require.NoError(t, s.CreateCloudProvision(context.Background(), prov))

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, slog.Default())
	p.stepFinalize(context.Background(), prov, slog.Default())

	got, err := s.GetCloudProvision(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvisionStatusReady, got.Status)
	require.NotEmpty(t, got.NodeID)

	node, err := s.GetNode(context.Background(), got.NodeID)
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, node.ID)
	assert.Equal(t, "bakery-node-1-"+strings.TrimPrefix(prov.ID, "prov_"), node.Name)
	assert.Equal(t, "198.51.100.11", node.SSHHost)
}

// =============================================================================
// Test Destroy
// =============================================================================

func TestProvisioner_DestroyProvision_WithoutInstance(t *testing.T) {
	s := workerStore(t)

	// A provision that reached ready without a provider instance recorded
	// (nothing to tear down remotely)
	prov, err := domain.NewCloudProvision("cred_1", domain.ProviderHetzner, "bakery-node-1", "fsn1", "cx22")
	require.NoError(t, err)
	require.NoError(t, prov.Transition(domain.ProvisionStatusCreating))
	require.NoError(t, prov.Transition(domain.ProvisionStatusConfiguring))
	require.NoError(t, prov.Transition(domain.ProvisionStatusReady))
	require.NoError(t, s.CreateCloudProvision(context.Background(), prov))

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, slog.Default())

	require.NoError(t, p.DestroyProvision(context.Background(), prov))

	got, err := s.GetCloudProvision(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvisionStatusDestroyed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestProvisioner_DestroyProvision_RemovesNodeAndKey(t *testing.T) {
	s := workerStore(t)

	key := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                "cloud-bakery-node-1",
		PrivateKeyEncrypted: []byte("encrypted"),
		PublicKey:           "ssh-ed25519 AAAA test",
		Fingerprint:         "SHA256:abcdef",
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, s.CreateSSHKey(context.Background(), key))

	node, err := domain.NewNode("bakery-node-1", "198.51.100.30", "root", 22)
	require.NoError(t, err)
	node.SSHKeyID = key.ID
	require.NoError(t, s.CreateNode(context.Background(), node))

	prov, err := domain.NewCloudProvision("cred_1", domain.ProviderHetzner, "bakery-node-1", "fsn1", "cx22")
	require.NoError(t, err)
	require.NoError(t, prov.Transition(domain.ProvisionStatusCreating))
	require.NoError(t, prov.Transition(domain.ProvisionStatusConfiguring))
	require.NoError(t, prov.Transition(domain.ProvisionStatusReady))
	prov.NodeID = node.ID
	prov.SSHKeyID = key.ID
	require.NoError(t, s.CreateCloudProvision(context.Background(), prov))

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, slog.Default())

	require.NoError(t, p.DestroyProvision(context.Background(), prov))

	_, err = s.GetNode(context.Background(), node.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSSHKey(context.Background(), key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetCloudProvision(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvisionStatusDestroyed, got.Status)
}

func TestProvisioner_DestroyProvision_InvalidState(t *testing.T) {
	s := workerStore(t)

	// Destroying an in-flight provision is refused; it has to finish or
	// fail first.
	prov, err := domain.NewCloudProvision("cred_1", domain.ProviderHetzner, "bakery-node-1", "fsn1", "cx22")
	require.NoError(t, err)
	require.NoError(t, s.CreateCloudProvision(context.Background(), prov))

	p := NewProvisioner(s, provisionerTestKey, ProvisionerConfig{}, slog.Default())

	err = p.DestroyProvision(context.Background(), prov)
	assert.Error(t, err)

	got, err := s.GetCloudProvision(context.Background(), prov.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvisionStatusPending, got.Status)
}
