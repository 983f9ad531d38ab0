// Package provider contains pure functions for cloud provider logic:
// credential validation and the static region/size catalogs offered when
// provisioning builder nodes.
// This is part of the Functional Core - all functions are pure with no I/O.
package provider

import "github.com/casebake/bakery/internal/core/domain"

// Region represents a cloud provider region.
type Region struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// InstanceSize represents an instance type/size option.
type InstanceSize struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CPUCores    float64 `json:"cpu_cores"`
	MemoryMB    int64   `json:"memory_mb"`
	DiskGB      int     `json:"disk_gb"`
	PriceHourly float64 `json:"price_hourly"`
}

// =============================================================================
// AWS EC2 Catalog
// =============================================================================

// AWSRegions returns the commonly used AWS regions.
func AWSRegions() []Region {
	return []Region{
		{ID: "us-east-1", Name: "US East (N. Virginia)", Available: true},
		{ID: "us-east-2", Name: "US East (Ohio)", Available: true},
		{ID: "us-west-1", Name: "US West (N. California)", Available: true},
		{ID: "us-west-2", Name: "US West (Oregon)", Available: true},
		{ID: "eu-west-1", Name: "EU (Ireland)", Available: true},
		{ID: "eu-west-2", Name: "EU (London)", Available: true},
		{ID: "eu-central-1", Name: "EU (Frankfurt)", Available: true},
		{ID: "ap-southeast-1", Name: "Asia Pacific (Singapore)", Available: true},
		{ID: "ap-northeast-1", Name: "Asia Pacific (Tokyo)", Available: true},
	}
}

// AWSSizes returns EC2 instance types suitable for builder nodes. Image
// builds are CPU and memory hungry while pip resolves wheels, so the
// catalog starts at 2 GB.
func AWSSizes() []InstanceSize {
	return []InstanceSize{
		{ID: "t3.small", Name: "t3.small (2 vCPU, 2 GB)", CPUCores: 2, MemoryMB: 2048, DiskGB: 20, PriceHourly: 0.0208},
		{ID: "t3.medium", Name: "t3.medium (2 vCPU, 4 GB)", CPUCores: 2, MemoryMB: 4096, DiskGB: 40, PriceHourly: 0.0416},
		{ID: "t3.large", Name: "t3.large (2 vCPU, 8 GB)", CPUCores: 2, MemoryMB: 8192, DiskGB: 80, PriceHourly: 0.0832},
		{ID: "t3.xlarge", Name: "t3.xlarge (4 vCPU, 16 GB)", CPUCores: 4, MemoryMB: 16384, DiskGB: 160, PriceHourly: 0.1664},
	}
}

// =============================================================================
// DigitalOcean Catalog
// =============================================================================

// DigitalOceanRegions returns common DO regions.
func DigitalOceanRegions() []Region {
	return []Region{
		{ID: "nyc1", Name: "New York 1", Available: true},
		{ID: "nyc3", Name: "New York 3", Available: true},
		{ID: "sfo3", Name: "San Francisco 3", Available: true},
		{ID: "ams3", Name: "Amsterdam 3", Available: true},
		{ID: "lon1", Name: "London 1", Available: true},
		{ID: "fra1", Name: "Frankfurt 1", Available: true},
		{ID: "sgp1", Name: "Singapore 1", Available: true},
		{ID: "blr1", Name: "Bangalore 1", Available: true},
	}
}

// DigitalOceanSizes returns common DO droplet sizes for builder nodes.
func DigitalOceanSizes() []InstanceSize {
	return []InstanceSize{
		{ID: "s-1vcpu-2gb", Name: "Basic (1 vCPU, 2 GB)", CPUCores: 1, MemoryMB: 2048, DiskGB: 50, PriceHourly: 0.01786},
		{ID: "s-2vcpu-2gb", Name: "Basic (2 vCPU, 2 GB)", CPUCores: 2, MemoryMB: 2048, DiskGB: 60, PriceHourly: 0.02679},
		{ID: "s-2vcpu-4gb", Name: "Basic (2 vCPU, 4 GB)", CPUCores: 2, MemoryMB: 4096, DiskGB: 80, PriceHourly: 0.03571},
		{ID: "s-4vcpu-8gb", Name: "Basic (4 vCPU, 8 GB)", CPUCores: 4, MemoryMB: 8192, DiskGB: 160, PriceHourly: 0.07143},
	}
}

// =============================================================================
// Hetzner Catalog
// =============================================================================

// HetznerRegions returns common Hetzner Cloud regions.
func HetznerRegions() []Region {
	return []Region{
		{ID: "nbg1", Name: "Nuremberg", Available: true},
		{ID: "fsn1", Name: "Falkenstein", Available: true},
		{ID: "hel1", Name: "Helsinki", Available: true},
		{ID: "ash", Name: "Ashburn, VA", Available: true},
		{ID: "hil", Name: "Hillsboro, OR", Available: true},
	}
}

// HetznerSizes returns common Hetzner server types for builder nodes.
func HetznerSizes() []InstanceSize {
	return []InstanceSize{
		{ID: "cx22", Name: "CX22 (2 vCPU, 4 GB)", CPUCores: 2, MemoryMB: 4096, DiskGB: 40, PriceHourly: 0.0065},
		{ID: "cx32", Name: "CX32 (4 vCPU, 8 GB)", CPUCores: 4, MemoryMB: 8192, DiskGB: 80, PriceHourly: 0.0119},
		{ID: "cx42", Name: "CX42 (8 vCPU, 16 GB)", CPUCores: 8, MemoryMB: 16384, DiskGB: 160, PriceHourly: 0.0229},
	}
}

// =============================================================================
// Catalog Lookup
// =============================================================================

// StaticRegions returns the static region catalog for a provider.
func StaticRegions(provider domain.ProviderType) []Region {
	switch provider {
	case domain.ProviderAWS:
		return AWSRegions()
	case domain.ProviderDigitalOcean:
		return DigitalOceanRegions()
	case domain.ProviderHetzner:
		return HetznerRegions()
	default:
		return nil
	}
}

// StaticSizes returns the static size catalog for a provider.
func StaticSizes(provider domain.ProviderType) []InstanceSize {
	switch provider {
	case domain.ProviderAWS:
		return AWSSizes()
	case domain.ProviderDigitalOcean:
		return DigitalOceanSizes()
	case domain.ProviderHetzner:
		return HetznerSizes()
	default:
		return nil
	}
}

// DefaultRegion returns the region used when a provision request names none
// and the credential carries no default.
func DefaultRegion(provider domain.ProviderType) string {
	switch provider {
	case domain.ProviderAWS:
		return "us-east-1"
	case domain.ProviderDigitalOcean:
		return "nyc3"
	case domain.ProviderHetzner:
		return "nbg1"
	default:
		return ""
	}
}

// DefaultSize returns the smallest catalog size for a provider, used when a
// provision request names none.
func DefaultSize(provider domain.ProviderType) string {
	sizes := StaticSizes(provider)
	if len(sizes) == 0 {
		return ""
	}
	return sizes[0].ID
}

// LookupSize returns the InstanceSize for a given provider and size ID, or nil if not found.
func LookupSize(provider domain.ProviderType, sizeID string) *InstanceSize {
	for _, s := range StaticSizes(provider) {
		if s.ID == sizeID {
			return &s
		}
	}
	return nil
}

// KnownRegion reports whether the region ID appears in the provider's
// static catalog. Providers add regions faster than we update catalogs, so
// callers treat false as a warning, not a hard failure.
func KnownRegion(provider domain.ProviderType, regionID string) bool {
	for _, r := range StaticRegions(provider) {
		if r.ID == regionID {
			return true
		}
	}
	return false
}
