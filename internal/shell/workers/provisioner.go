package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casebake/bakery/internal/core/crypto"
	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/provider"
	"github.com/casebake/bakery/internal/shell/store"
)

// ProvisionerConfig configures the provisioner worker.
type ProvisionerConfig struct {
	Interval      time.Duration
	MaxConcurrent int
}

// DefaultProvisionerConfig returns default configuration.
func DefaultProvisionerConfig() ProvisionerConfig {
	return ProvisionerConfig{
		Interval:      5 * time.Second,
		MaxConcurrent: 3,
	}
}

// Provisioner polls for pending cloud provisions and executes them. Each
// provision walks pending -> creating -> configuring -> ready; interrupted
// provisions resume from their persisted status on the next cycle.
type Provisioner struct {
	store         store.Store
	encryptionKey []byte
	config        ProvisionerConfig
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvisioner creates a new provisioner worker.
func NewProvisioner(s store.Store, encryptionKey []byte, config ProvisionerConfig, logger *slog.Logger) *Provisioner {
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioner{
		store:         s,
		encryptionKey: encryptionKey,
		config:        config,
		logger:        logger.With("component", "provisioner"),
	}
}

// Start begins the provisioner background goroutine.
func (p *Provisioner) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run()
	p.logger.Info("provisioner started", "interval", p.config.Interval, "max_concurrent", p.config.MaxConcurrent)
}

// Stop gracefully stops the provisioner.
func (p *Provisioner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("provisioner stopped")
}

func (p *Provisioner) run() {
	defer p.wg.Done()

	// Run immediately on start
	p.runCycle()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runCycle()
		}
	}
}

func (p *Provisioner) runCycle() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	provisions, err := p.store.ListActiveProvisions(ctx)
	if err != nil {
		p.logger.Error("failed to list active provisions", "error", err)
		return
	}

	if len(provisions) == 0 {
		return
	}

	p.logger.Debug("processing active provisions", "count", len(provisions))

	sem := make(chan struct{}, p.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range provisions {
		prov := &provisions[i]
		wg.Add(1)
		go func(pr *domain.CloudProvision) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			p.processProvision(ctx, pr)
		}(prov)
	}

	wg.Wait()
}

func (p *Provisioner) processProvision(ctx context.Context, prov *domain.CloudProvision) {
	logger := p.logger.With("provision_id", prov.ID, "provider", prov.Provider, "status", prov.Status)

	switch prov.Status {
	case domain.ProvisionStatusPending:
		p.stepCreateInstance(ctx, prov, logger)
	case domain.ProvisionStatusCreating:
		// CreateInstance blocks until the IP is available, so a provision
		// resumed here either has its instance already or lost it mid-create.
		p.stepConfigureInstance(ctx, prov, logger)
	case domain.ProvisionStatusConfiguring:
		p.stepFinalize(ctx, prov, logger)
	}
}

func (p *Provisioner) stepCreateInstance(ctx context.Context, prov *domain.CloudProvision, logger *slog.Logger) {
	logger.Info("starting instance creation")

	prov.Transition(domain.ProvisionStatusCreating)
	prov.SetStep("Generating SSH key pair")
	p.store.UpdateCloudProvision(ctx, prov)

	// Generate a dedicated SSH key pair for the instance
	privKeyPEM, pubKey, err := crypto.GenerateSSHKeyPair()
	if err != nil {
		p.failProvision(ctx, prov, "failed to generate SSH key: "+err.Error(), logger)
		return
	}

	encryptedKey, err := crypto.EncryptSSHKey(privKeyPEM, p.encryptionKey)
	if err != nil {
		p.failProvision(ctx, prov, "failed to encrypt SSH key: "+err.Error(), logger)
		return
	}

	fingerprint, err := crypto.GetSSHPublicKeyFingerprint(privKeyPEM)
	if err != nil {
		fingerprint = "unknown"
	}

	sshKey := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                fmt.Sprintf("cloud-%s", prov.InstanceName),
		PrivateKeyEncrypted: encryptedKey,
		PublicKey:           pubKey,
		Fingerprint:         fingerprint,
		CreatedAt:           time.Now().UTC(),
	}

	if err := p.store.CreateSSHKey(ctx, sshKey); err != nil {
		p.failProvision(ctx, prov, "failed to store SSH key: "+err.Error(), logger)
		return
	}

	prov.SSHKeyID = sshKey.ID
	prov.SetStep("Creating cloud instance")
	p.store.UpdateCloudProvision(ctx, prov)

	cloudProvider, err := p.providerFor(ctx, prov)
	if err != nil {
		p.failProvision(ctx, prov, err.Error(), logger)
		return
	}

	prov.SetStep("Launching instance with provider")
	p.store.UpdateCloudProvision(ctx, prov)

	result, err := cloudProvider.CreateInstance(ctx, provider.ProvisionRequest{
		InstanceName: prov.InstanceName,
		Region:       prov.Region,
		Size:         prov.Size,
		SSHPublicKey: pubKey,
	})
	if err != nil {
		p.failProvision(ctx, prov, "failed to create instance: "+err.Error(), logger)
		return
	}

	prov.ProviderInstanceID = result.ProviderInstanceID
	prov.PublicIP = result.PublicIP
	logger.Info("instance created", "instance_id", result.ProviderInstanceID, "ip", result.PublicIP)

	prov.Transition(domain.ProvisionStatusConfiguring)
	prov.SetStep("Waiting for Docker to be ready")
	// Losing this update would orphan the instance: a resumed provision
	// without ProviderInstanceID cannot find what it launched.
	if err := p.store.UpdateCloudProvision(ctx, prov); err != nil {
		logger.Error("failed to persist created instance",
			"instance_id", result.ProviderInstanceID,
			"error", err,
		)
	}
}

func (p *Provisioner) stepConfigureInstance(ctx context.Context, prov *domain.CloudProvision, logger *slog.Logger) {
	if prov.PublicIP == "" {
		p.failProvision(ctx, prov, "no public IP available for configuration", logger)
		return
	}

	// Docker is installed via the provider's user-data script; the health
	// checker verifies it once the node record exists.
	prov.Transition(domain.ProvisionStatusConfiguring)
	prov.SetStep("Creating node record")
	p.store.UpdateCloudProvision(ctx, prov)
}

func (p *Provisioner) stepFinalize(ctx context.Context, prov *domain.CloudProvision, logger *slog.Logger) {
	if prov.NodeID != "" {
		// Already have a node, mark as ready
		prov.Transition(domain.ProvisionStatusReady)
		prov.SetStep("Complete")
		p.store.UpdateCloudProvision(ctx, prov)
		logger.Info("provision complete", "node_id", prov.NodeID)
		return
	}

	prov.SetStep("Registering node")
	p.store.UpdateCloudProvision(ctx, prov)

	// Node names are unique; when the instance name is already taken the
	// VM exists and must still be registered, so suffix instead of failing.
	name := prov.InstanceName
	if _, err := p.store.GetNodeByName(ctx, name); err == nil {
		name = name + "-" + strings.TrimPrefix(prov.ID, "prov_")
		logger.Warn("node name taken, registering with suffix", "name", name)
	}

	// Cloud instances use root by default
	node, err := domain.NewNode(name, prov.PublicIP, "root", 22)
	if err != nil {
		p.failProvision(ctx, prov, "failed to create node: "+err.Error(), logger)
		return
	}

	node.SSHKeyID = prov.SSHKeyID
	node.Location = prov.Region

	if err := p.store.CreateNode(ctx, node); err != nil {
		p.failProvision(ctx, prov, "failed to store node: "+err.Error(), logger)
		return
	}

	prov.NodeID = node.ID
	prov.Transition(domain.ProvisionStatusReady)
	prov.SetStep("Complete")
	p.store.UpdateCloudProvision(ctx, prov)

	// The node starts offline; the health checker deploys the runner and
	// promotes it once Docker answers.
	logger.Info("provision complete", "node_id", node.ID, "ip", prov.PublicIP)
}

func (p *Provisioner) failProvision(ctx context.Context, prov *domain.CloudProvision, errMsg string, logger *slog.Logger) {
	logger.Error("provision failed", "error", errMsg)
	prov.TransitionToFailed(errMsg)
	p.store.UpdateCloudProvision(ctx, prov)
}

// providerFor builds a cloud provider client from the provision's stored,
// encrypted credentials.
func (p *Provisioner) providerFor(ctx context.Context, prov *domain.CloudProvision) (provider.Provider, error) {
	cred, err := p.store.GetCloudCredential(ctx, prov.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	decrypted, err := crypto.DecryptCredentials(cred.CredentialsEncrypted, p.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	cloudProvider, err := provider.NewProvider(prov.Provider, decrypted, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	return cloudProvider, nil
}

// =============================================================================
// Destroy
// =============================================================================

// DestroyProvision tears down a provisioned instance and its node record.
// It runs synchronously; the API calls it when a provision is deleted.
func (p *Provisioner) DestroyProvision(ctx context.Context, prov *domain.CloudProvision) error {
	logger := p.logger.With("provision_id", prov.ID, "provider", prov.Provider)

	if err := prov.Transition(domain.ProvisionStatusDestroying); err != nil {
		return err
	}
	prov.SetStep("Destroying cloud instance")
	p.store.UpdateCloudProvision(ctx, prov)

	if prov.ProviderInstanceID != "" {
		cloudProvider, err := p.providerFor(ctx, prov)
		if err != nil {
			p.failProvision(ctx, prov, err.Error(), logger)
			return err
		}

		err = cloudProvider.DestroyInstance(ctx, provider.DestroyRequest{
			ProviderInstanceID: prov.ProviderInstanceID,
			InstanceName:       prov.InstanceName,
			Region:             prov.Region,
		})
		if err != nil {
			p.failProvision(ctx, prov, "failed to destroy instance: "+err.Error(), logger)
			return err
		}
	}

	// Remove the node record so the fleet no longer schedules to it. The
	// SSH key goes last; the node still references it until deleted.
	if prov.NodeID != "" {
		if err := p.store.DeleteNode(ctx, prov.NodeID); err != nil {
			logger.Warn("failed to delete node record", "node_id", prov.NodeID, "error", err)
		}
	}
	if prov.SSHKeyID != "" {
		if err := p.store.DeleteSSHKey(ctx, prov.SSHKeyID); err != nil {
			logger.Warn("failed to delete SSH key", "ssh_key_id", prov.SSHKeyID, "error", err)
		}
	}

	prov.Transition(domain.ProvisionStatusDestroyed)
	prov.SetStep("Destroyed")
	if err := p.store.UpdateCloudProvision(ctx, prov); err != nil {
		return err
	}

	logger.Info("provision destroyed", "instance_id", prov.ProviderInstanceID)
	return nil
}
