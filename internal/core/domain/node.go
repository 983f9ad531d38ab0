package domain

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Node Errors
// =============================================================================

var (
	// Node name validation errors
	ErrNodeNameRequired = errors.New("node name is required")
	ErrNodeNameTooShort = errors.New("node name must be at least 3 characters")
	ErrNodeNameTooLong  = errors.New("node name must be at most 100 characters")

	// SSH validation errors
	ErrSSHHostRequired = errors.New("SSH host is required")
	ErrSSHHostInvalid  = errors.New("SSH host must be a valid hostname or IP address")
	ErrSSHPortInvalid  = errors.New("SSH port must be between 1 and 65535")
	ErrSSHUserRequired = errors.New("SSH user is required")

	// Node operation errors
	ErrNodeNotFound    = errors.New("node not found")
	ErrNodeOffline     = errors.New("node is offline")
	ErrNodeMaintenance = errors.New("node is in maintenance mode")
)

// =============================================================================
// Node Status
// =============================================================================

// NodeStatus represents the operational status of a builder node.
type NodeStatus string

const (
	NodeStatusOnline      NodeStatus = "online"
	NodeStatusOffline     NodeStatus = "offline"
	NodeStatusMaintenance NodeStatus = "maintenance"
)

// IsValid checks if the node status is valid.
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusOnline, NodeStatusOffline, NodeStatusMaintenance:
		return true
	default:
		return false
	}
}

// IsAvailable returns true if the node can accept bakes.
func (s NodeStatus) IsAvailable() bool {
	return s == NodeStatusOnline
}

// =============================================================================
// Node
// =============================================================================

// Node represents a remote builder node reachable over SSH. Bakes can be
// dispatched to online nodes through the runner agent installed on them;
// the local daemon is always available as the implicit fallback.
type Node struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SSHHost         string     `json:"ssh_host"`
	SSHPort         int        `json:"ssh_port"`
	SSHUser         string     `json:"ssh_user"`
	SSHKeyID        string     `json:"ssh_key_id,omitempty"`
	DockerSocket    string     `json:"docker_socket"`
	Status          NodeStatus `json:"status"`
	Location        string     `json:"location,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// GenerateNodeID generates a new node ID with "node_" prefix.
func GenerateNodeID() string {
	return "node_" + uuid.New().String()[:8]
}

// NewNode creates a new node with validated fields. Nodes start offline;
// the health checker promotes them once the runner agent responds.
func NewNode(name, sshHost, sshUser string, sshPort int) (*Node, error) {
	if err := ValidateNodeName(name); err != nil {
		return nil, err
	}
	if err := ValidateSSHHost(sshHost); err != nil {
		return nil, err
	}
	if err := ValidateSSHPort(sshPort); err != nil {
		return nil, err
	}
	if err := ValidateSSHUser(sshUser); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Node{
		ID:           GenerateNodeID(),
		Name:         name,
		SSHHost:      sshHost,
		SSHPort:      sshPort,
		SSHUser:      sshUser,
		DockerSocket: "/var/run/docker.sock",
		Status:       NodeStatusOffline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsAvailable returns true if the node can accept new bakes.
func (n *Node) IsAvailable() bool {
	return n.Status.IsAvailable()
}

// SSHAddress returns the SSH connection address (host:port).
func (n *Node) SSHAddress() string {
	return net.JoinHostPort(n.SSHHost, strconv.Itoa(n.SSHPort))
}

// =============================================================================
// SSH Key
// =============================================================================

// SSHKey represents an encrypted SSH private key.
type SSHKey struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	PrivateKeyEncrypted []byte    `json:"-"` // Never serialize
	PublicKey           string    `json:"public_key"`
	Fingerprint         string    `json:"fingerprint"`
	CreatedAt           time.Time `json:"created_at"`
}

// GenerateSSHKeyID generates a new SSH key ID with "sshkey_" prefix.
func GenerateSSHKeyID() string {
	return "sshkey_" + uuid.New().String()[:8]
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateNodeName validates a node name.
func ValidateNodeName(name string) error {
	if name == "" {
		return ErrNodeNameRequired
	}
	if len(name) < 3 {
		return ErrNodeNameTooShort
	}
	if len(name) > 100 {
		return ErrNodeNameTooLong
	}
	return nil
}

// ValidateSSHHost validates an SSH host (hostname or IP).
func ValidateSSHHost(host string) error {
	if host == "" {
		return ErrSSHHostRequired
	}

	// Check if it's a valid IP address
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	// Check if it's a valid hostname
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	if hostnameRegex.MatchString(host) {
		return nil
	}

	return ErrSSHHostInvalid
}

// ValidateSSHPort validates an SSH port.
func ValidateSSHPort(port int) error {
	if port < 1 || port > 65535 {
		return ErrSSHPortInvalid
	}
	return nil
}

// ValidateSSHUser validates an SSH username.
func ValidateSSHUser(user string) error {
	if user == "" {
		return ErrSSHUserRequired
	}
	return nil
}
