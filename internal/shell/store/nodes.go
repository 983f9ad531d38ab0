package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Node and SSH Key Rows
// =============================================================================

// nodeRow represents a builder node row in the database.
type nodeRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	SSHHost         string  `db:"ssh_host"`
	SSHPort         int     `db:"ssh_port"`
	SSHUser         string  `db:"ssh_user"`
	SSHKeyID        *string `db:"ssh_key_id"`
	DockerSocket    string  `db:"docker_socket"`
	Status          string  `db:"status"`
	Location        string  `db:"location"`
	LastHealthCheck *string `db:"last_health_check"`
	ErrorMessage    string  `db:"error_message"`
	CreatedAt       string  `db:"created_at"`
	UpdatedAt       string  `db:"updated_at"`
}

// sshKeyRow represents an SSH key row in the database.
type sshKeyRow struct {
	ID                  string `db:"id"`
	Name                string `db:"name"`
	PrivateKeyEncrypted []byte `db:"private_key_encrypted"`
	PublicKey           string `db:"public_key"`
	Fingerprint         string `db:"fingerprint"`
	CreatedAt           string `db:"created_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateNode(ctx context.Context, node *domain.Node) error {
	return createNode(ctx, s.db, node)
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	return getNode(ctx, s.db, id)
}

func (s *SQLiteStore) GetNodeByName(ctx context.Context, name string) (*domain.Node, error) {
	return getNodeByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, node *domain.Node) error {
	return updateNode(ctx, s.db, node)
}

func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	return deleteNode(ctx, s.db, id)
}

func (s *SQLiteStore) ListNodes(ctx context.Context, opts ListOptions) ([]domain.Node, error) {
	return listNodes(ctx, s.db, opts)
}

func (s *SQLiteStore) ListOnlineNodes(ctx context.Context) ([]domain.Node, error) {
	return listNodesByStatus(ctx, s.db, domain.NodeStatusOnline)
}

func (s *SQLiteStore) ListCheckableNodes(ctx context.Context) ([]domain.Node, error) {
	return listCheckableNodes(ctx, s.db)
}

func (s *SQLiteStore) CreateSSHKey(ctx context.Context, key *domain.SSHKey) error {
	return createSSHKey(ctx, s.db, key)
}

func (s *SQLiteStore) GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error) {
	return getSSHKey(ctx, s.db, id)
}

func (s *SQLiteStore) DeleteSSHKey(ctx context.Context, id string) error {
	return deleteSSHKey(ctx, s.db, id)
}

func (s *SQLiteStore) ListSSHKeys(ctx context.Context, opts ListOptions) ([]domain.SSHKey, error) {
	return listSSHKeys(ctx, s.db, opts)
}

func (s *SQLiteStore) ListNodesBySSHKey(ctx context.Context, sshKeyID string) ([]domain.Node, error) {
	return listNodesBySSHKey(ctx, s.db, sshKeyID)
}

func (s *txSQLiteStore) CreateNode(ctx context.Context, node *domain.Node) error {
	return createNode(ctx, s.tx, node)
}

func (s *txSQLiteStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	return getNode(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetNodeByName(ctx context.Context, name string) (*domain.Node, error) {
	return getNodeByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateNode(ctx context.Context, node *domain.Node) error {
	return updateNode(ctx, s.tx, node)
}

func (s *txSQLiteStore) DeleteNode(ctx context.Context, id string) error {
	return deleteNode(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListNodes(ctx context.Context, opts ListOptions) ([]domain.Node, error) {
	return listNodes(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListOnlineNodes(ctx context.Context) ([]domain.Node, error) {
	return listNodesByStatus(ctx, s.tx, domain.NodeStatusOnline)
}

func (s *txSQLiteStore) ListCheckableNodes(ctx context.Context) ([]domain.Node, error) {
	return listCheckableNodes(ctx, s.tx)
}

func (s *txSQLiteStore) CreateSSHKey(ctx context.Context, key *domain.SSHKey) error {
	return createSSHKey(ctx, s.tx, key)
}

func (s *txSQLiteStore) GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error) {
	return getSSHKey(ctx, s.tx, id)
}

func (s *txSQLiteStore) DeleteSSHKey(ctx context.Context, id string) error {
	return deleteSSHKey(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListSSHKeys(ctx context.Context, opts ListOptions) ([]domain.SSHKey, error) {
	return listSSHKeys(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListNodesBySSHKey(ctx context.Context, sshKeyID string) ([]domain.Node, error) {
	return listNodesBySSHKey(ctx, s.tx, sshKeyID)
}

// =============================================================================
// Node Implementation Functions
// =============================================================================

func createNode(ctx context.Context, exec executor, node *domain.Node) error {
	query := `
		INSERT INTO nodes (
			id, name, ssh_host, ssh_port, ssh_user, ssh_key_id, docker_socket,
			status, location, last_health_check, error_message, created_at, updated_at
		) VALUES (
			:id, :name, :ssh_host, :ssh_port, :ssh_user, :ssh_key_id, :docker_socket,
			:status, :location, :last_health_check, :error_message, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                node.ID,
		"name":              node.Name,
		"ssh_host":          node.SSHHost,
		"ssh_port":          node.SSHPort,
		"ssh_user":          node.SSHUser,
		"ssh_key_id":        emptyToNil(node.SSHKeyID),
		"docker_socket":     node.DockerSocket,
		"status":            string(node.Status),
		"location":          node.Location,
		"last_health_check": formatTimePtr(node.LastHealthCheck),
		"error_message":     node.ErrorMessage,
		"created_at":        formatTime(node.CreatedAt),
		"updated_at":        formatTime(node.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: nodes.id") {
			return NewStoreError("CreateNode", "node", node.ID, "node with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: nodes.name") {
			return NewStoreError("CreateNode", "node", node.ID, "node with this name already exists", ErrDuplicateName)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateNode", "node", node.ID, "ssh key not found", ErrForeignKey)
		}
		return NewStoreError("CreateNode", "node", node.ID, err.Error(), err)
	}

	return nil
}

func getNode(ctx context.Context, exec executor, id string) (*domain.Node, error) {
	query := `SELECT * FROM nodes WHERE id = ?`

	var row nodeRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetNode", "node", id, "node not found", ErrNotFound)
		}
		return nil, NewStoreError("GetNode", "node", id, err.Error(), err)
	}

	return rowToNode(&row), nil
}

func getNodeByName(ctx context.Context, exec executor, name string) (*domain.Node, error) {
	query := `SELECT * FROM nodes WHERE name = ?`

	var row nodeRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetNodeByName", "node", name, "node not found", ErrNotFound)
		}
		return nil, NewStoreError("GetNodeByName", "node", name, err.Error(), err)
	}

	return rowToNode(&row), nil
}

func updateNode(ctx context.Context, exec executor, node *domain.Node) error {
	query := `
		UPDATE nodes SET
			name = :name,
			ssh_host = :ssh_host,
			ssh_port = :ssh_port,
			ssh_user = :ssh_user,
			ssh_key_id = :ssh_key_id,
			docker_socket = :docker_socket,
			status = :status,
			location = :location,
			last_health_check = :last_health_check,
			error_message = :error_message,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":                node.ID,
		"name":              node.Name,
		"ssh_host":          node.SSHHost,
		"ssh_port":          node.SSHPort,
		"ssh_user":          node.SSHUser,
		"ssh_key_id":        emptyToNil(node.SSHKeyID),
		"docker_socket":     node.DockerSocket,
		"status":            string(node.Status),
		"location":          node.Location,
		"last_health_check": formatTimePtr(node.LastHealthCheck),
		"error_message":     node.ErrorMessage,
		"updated_at":        formatTime(node.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: nodes.name") {
			return NewStoreError("UpdateNode", "node", node.ID, "node with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("UpdateNode", "node", node.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateNode", "node", node.ID, "node not found", ErrNotFound)
	}

	return nil
}

func deleteNode(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM nodes WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteNode", "node", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteNode", "node", id, "node not found", ErrNotFound)
	}

	return nil
}

func listNodes(ctx context.Context, exec executor, opts ListOptions) ([]domain.Node, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM nodes ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []nodeRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListNodes", "node", "", err.Error(), err)
	}

	return rowsToNodes(rows), nil
}

func listNodesByStatus(ctx context.Context, exec executor, status domain.NodeStatus) ([]domain.Node, error) {
	query := `SELECT * FROM nodes WHERE status = ? ORDER BY created_at DESC`

	var rows []nodeRow
	err := exec.SelectContext(ctx, &rows, query, string(status))
	if err != nil {
		return nil, NewStoreError("ListNodesByStatus", "node", "", err.Error(), err)
	}

	return rowsToNodes(rows), nil
}

func listCheckableNodes(ctx context.Context, exec executor) ([]domain.Node, error) {
	query := `SELECT * FROM nodes WHERE status != ? ORDER BY created_at DESC`

	var rows []nodeRow
	err := exec.SelectContext(ctx, &rows, query, string(domain.NodeStatusMaintenance))
	if err != nil {
		return nil, NewStoreError("ListCheckableNodes", "node", "", err.Error(), err)
	}

	return rowsToNodes(rows), nil
}

func listNodesBySSHKey(ctx context.Context, exec executor, sshKeyID string) ([]domain.Node, error) {
	query := `SELECT * FROM nodes WHERE ssh_key_id = ?`

	var rows []nodeRow
	err := exec.SelectContext(ctx, &rows, query, sshKeyID)
	if err != nil {
		return nil, NewStoreError("ListNodesBySSHKey", "node", "", err.Error(), err)
	}

	return rowsToNodes(rows), nil
}

// =============================================================================
// SSH Key Implementation Functions
// =============================================================================

func createSSHKey(ctx context.Context, exec executor, key *domain.SSHKey) error {
	query := `
		INSERT INTO ssh_keys (
			id, name, private_key_encrypted, public_key, fingerprint, created_at
		) VALUES (
			:id, :name, :private_key_encrypted, :public_key, :fingerprint, :created_at
		)`

	row := map[string]any{
		"id":                    key.ID,
		"name":                  key.Name,
		"private_key_encrypted": key.PrivateKeyEncrypted,
		"public_key":            key.PublicKey,
		"fingerprint":           key.Fingerprint,
		"created_at":            formatTime(key.CreatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: ssh_keys.id") {
			return NewStoreError("CreateSSHKey", "ssh_key", key.ID, "ssh key with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: ssh_keys.name") {
			return NewStoreError("CreateSSHKey", "ssh_key", key.ID, "ssh key with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateSSHKey", "ssh_key", key.ID, err.Error(), err)
	}

	return nil
}

func getSSHKey(ctx context.Context, exec executor, id string) (*domain.SSHKey, error) {
	query := `SELECT * FROM ssh_keys WHERE id = ?`

	var row sshKeyRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetSSHKey", "ssh_key", id, "ssh key not found", ErrNotFound)
		}
		return nil, NewStoreError("GetSSHKey", "ssh_key", id, err.Error(), err)
	}

	return rowToSSHKey(&row), nil
}

func deleteSSHKey(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM ssh_keys WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("DeleteSSHKey", "ssh_key", id, "ssh key is referenced by a node", ErrForeignKey)
		}
		return NewStoreError("DeleteSSHKey", "ssh_key", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteSSHKey", "ssh_key", id, "ssh key not found", ErrNotFound)
	}

	return nil
}

func listSSHKeys(ctx context.Context, exec executor, opts ListOptions) ([]domain.SSHKey, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM ssh_keys ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []sshKeyRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListSSHKeys", "ssh_key", "", err.Error(), err)
	}

	keys := make([]domain.SSHKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, *rowToSSHKey(&row))
	}

	return keys, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToNode converts a database row to a domain.Node.
func rowToNode(row *nodeRow) *domain.Node {
	sshKeyID := ""
	if row.SSHKeyID != nil {
		sshKeyID = *row.SSHKeyID
	}

	return &domain.Node{
		ID:              row.ID,
		Name:            row.Name,
		SSHHost:         row.SSHHost,
		SSHPort:         row.SSHPort,
		SSHUser:         row.SSHUser,
		SSHKeyID:        sshKeyID,
		DockerSocket:    row.DockerSocket,
		Status:          domain.NodeStatus(row.Status),
		Location:        row.Location,
		LastHealthCheck: parseTimePtr(row.LastHealthCheck),
		ErrorMessage:    row.ErrorMessage,
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
}

func rowsToNodes(rows []nodeRow) []domain.Node {
	nodes := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, *rowToNode(&row))
	}
	return nodes
}

// rowToSSHKey converts a database row to a domain.SSHKey.
func rowToSSHKey(row *sshKeyRow) *domain.SSHKey {
	return &domain.SSHKey{
		ID:                  row.ID,
		Name:                row.Name,
		PrivateKeyEncrypted: row.PrivateKeyEncrypted,
		PublicKey:           row.PublicKey,
		Fingerprint:         row.Fingerprint,
		CreatedAt:           parseTime(row.CreatedAt),
	}
}

// emptyToNil maps an empty string to NULL so optional foreign keys do not
// trip constraint checks.
func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
