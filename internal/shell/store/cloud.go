package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Cloud Rows
// =============================================================================

// credentialRow represents a cloud credential row in the database.
type credentialRow struct {
	ID                   string `db:"id"`
	Name                 string `db:"name"`
	Provider             string `db:"provider"`
	CredentialsEncrypted []byte `db:"credentials_encrypted"`
	DefaultRegion        string `db:"default_region"`
	CreatedAt            string `db:"created_at"`
	UpdatedAt            string `db:"updated_at"`
}

// provisionRow represents a cloud provision row in the database.
type provisionRow struct {
	ID                 string  `db:"id"`
	CredentialID       string  `db:"credential_id"`
	Provider           string  `db:"provider"`
	Status             string  `db:"status"`
	InstanceName       string  `db:"instance_name"`
	Region             string  `db:"region"`
	Size               string  `db:"size"`
	ProviderInstanceID string  `db:"provider_instance_id"`
	PublicIP           string  `db:"public_ip"`
	NodeID             string  `db:"node_id"`
	SSHKeyID           string  `db:"ssh_key_id"`
	CurrentStep        string  `db:"current_step"`
	ErrorMessage       string  `db:"error_message"`
	CreatedAt          string  `db:"created_at"`
	UpdatedAt          string  `db:"updated_at"`
	CompletedAt        *string `db:"completed_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateCloudCredential(ctx context.Context, cred *domain.CloudCredential) error {
	return createCloudCredential(ctx, s.db, cred)
}

func (s *SQLiteStore) GetCloudCredential(ctx context.Context, id string) (*domain.CloudCredential, error) {
	return getCloudCredential(ctx, s.db, id)
}

func (s *SQLiteStore) DeleteCloudCredential(ctx context.Context, id string) error {
	return deleteCloudCredential(ctx, s.db, id)
}

func (s *SQLiteStore) ListCloudCredentials(ctx context.Context, opts ListOptions) ([]domain.CloudCredential, error) {
	return listCloudCredentials(ctx, s.db, opts)
}

func (s *SQLiteStore) CreateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error {
	return createCloudProvision(ctx, s.db, prov)
}

func (s *SQLiteStore) GetCloudProvision(ctx context.Context, id string) (*domain.CloudProvision, error) {
	return getCloudProvision(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error {
	return updateCloudProvision(ctx, s.db, prov)
}

func (s *SQLiteStore) ListCloudProvisions(ctx context.Context, opts ListOptions) ([]domain.CloudProvision, error) {
	return listCloudProvisions(ctx, s.db, opts)
}

func (s *SQLiteStore) ListActiveProvisions(ctx context.Context) ([]domain.CloudProvision, error) {
	return listActiveProvisions(ctx, s.db)
}

func (s *SQLiteStore) ListCloudProvisionsByCredential(ctx context.Context, credentialID string) ([]domain.CloudProvision, error) {
	return listCloudProvisionsByCredential(ctx, s.db, credentialID)
}

func (s *txSQLiteStore) CreateCloudCredential(ctx context.Context, cred *domain.CloudCredential) error {
	return createCloudCredential(ctx, s.tx, cred)
}

func (s *txSQLiteStore) GetCloudCredential(ctx context.Context, id string) (*domain.CloudCredential, error) {
	return getCloudCredential(ctx, s.tx, id)
}

func (s *txSQLiteStore) DeleteCloudCredential(ctx context.Context, id string) error {
	return deleteCloudCredential(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListCloudCredentials(ctx context.Context, opts ListOptions) ([]domain.CloudCredential, error) {
	return listCloudCredentials(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error {
	return createCloudProvision(ctx, s.tx, prov)
}

func (s *txSQLiteStore) GetCloudProvision(ctx context.Context, id string) (*domain.CloudProvision, error) {
	return getCloudProvision(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error {
	return updateCloudProvision(ctx, s.tx, prov)
}

func (s *txSQLiteStore) ListCloudProvisions(ctx context.Context, opts ListOptions) ([]domain.CloudProvision, error) {
	return listCloudProvisions(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListActiveProvisions(ctx context.Context) ([]domain.CloudProvision, error) {
	return listActiveProvisions(ctx, s.tx)
}

func (s *txSQLiteStore) ListCloudProvisionsByCredential(ctx context.Context, credentialID string) ([]domain.CloudProvision, error) {
	return listCloudProvisionsByCredential(ctx, s.tx, credentialID)
}

// =============================================================================
// Cloud Credential Implementation Functions
// =============================================================================

func createCloudCredential(ctx context.Context, exec executor, cred *domain.CloudCredential) error {
	query := `
		INSERT INTO cloud_credentials (
			id, name, provider, credentials_encrypted, default_region, created_at, updated_at
		) VALUES (
			:id, :name, :provider, :credentials_encrypted, :default_region, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                    cred.ID,
		"name":                  cred.Name,
		"provider":              string(cred.Provider),
		"credentials_encrypted": cred.CredentialsEncrypted,
		"default_region":        cred.DefaultRegion,
		"created_at":            formatTime(cred.CreatedAt),
		"updated_at":            formatTime(cred.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: cloud_credentials.id") {
			return NewStoreError("CreateCloudCredential", "cloud_credential", cred.ID, "credential with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: cloud_credentials.name") {
			return NewStoreError("CreateCloudCredential", "cloud_credential", cred.ID, "credential with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateCloudCredential", "cloud_credential", cred.ID, err.Error(), err)
	}

	return nil
}

func getCloudCredential(ctx context.Context, exec executor, id string) (*domain.CloudCredential, error) {
	query := `SELECT * FROM cloud_credentials WHERE id = ?`

	var row credentialRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetCloudCredential", "cloud_credential", id, "credential not found", ErrNotFound)
		}
		return nil, NewStoreError("GetCloudCredential", "cloud_credential", id, err.Error(), err)
	}

	return rowToCredential(&row), nil
}

func deleteCloudCredential(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM cloud_credentials WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("DeleteCloudCredential", "cloud_credential", id, "credential is referenced by a provision", ErrForeignKey)
		}
		return NewStoreError("DeleteCloudCredential", "cloud_credential", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteCloudCredential", "cloud_credential", id, "credential not found", ErrNotFound)
	}

	return nil
}

func listCloudCredentials(ctx context.Context, exec executor, opts ListOptions) ([]domain.CloudCredential, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM cloud_credentials ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []credentialRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListCloudCredentials", "cloud_credential", "", err.Error(), err)
	}

	creds := make([]domain.CloudCredential, 0, len(rows))
	for _, row := range rows {
		creds = append(creds, *rowToCredential(&row))
	}

	return creds, nil
}

// =============================================================================
// Cloud Provision Implementation Functions
// =============================================================================

func createCloudProvision(ctx context.Context, exec executor, prov *domain.CloudProvision) error {
	query := `
		INSERT INTO cloud_provisions (
			id, credential_id, provider, status, instance_name, region, size,
			provider_instance_id, public_ip, node_id, ssh_key_id, current_step,
			error_message, created_at, updated_at, completed_at
		) VALUES (
			:id, :credential_id, :provider, :status, :instance_name, :region, :size,
			:provider_instance_id, :public_ip, :node_id, :ssh_key_id, :current_step,
			:error_message, :created_at, :updated_at, :completed_at
		)`

	row := provisionToRowMap(prov)

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: cloud_provisions.id") {
			return NewStoreError("CreateCloudProvision", "cloud_provision", prov.ID, "provision with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateCloudProvision", "cloud_provision", prov.ID, "credential not found", ErrForeignKey)
		}
		return NewStoreError("CreateCloudProvision", "cloud_provision", prov.ID, err.Error(), err)
	}

	return nil
}

func getCloudProvision(ctx context.Context, exec executor, id string) (*domain.CloudProvision, error) {
	query := `SELECT * FROM cloud_provisions WHERE id = ?`

	var row provisionRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetCloudProvision", "cloud_provision", id, "provision not found", ErrNotFound)
		}
		return nil, NewStoreError("GetCloudProvision", "cloud_provision", id, err.Error(), err)
	}

	return rowToProvision(&row), nil
}

func updateCloudProvision(ctx context.Context, exec executor, prov *domain.CloudProvision) error {
	query := `
		UPDATE cloud_provisions SET
			status = :status,
			provider_instance_id = :provider_instance_id,
			public_ip = :public_ip,
			node_id = :node_id,
			ssh_key_id = :ssh_key_id,
			current_step = :current_step,
			error_message = :error_message,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id`

	row := provisionToRowMap(prov)
	delete(row, "credential_id")
	delete(row, "provider")
	delete(row, "instance_name")
	delete(row, "region")
	delete(row, "size")
	delete(row, "created_at")

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateCloudProvision", "cloud_provision", prov.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateCloudProvision", "cloud_provision", prov.ID, "provision not found", ErrNotFound)
	}

	return nil
}

func listCloudProvisions(ctx context.Context, exec executor, opts ListOptions) ([]domain.CloudProvision, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM cloud_provisions ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []provisionRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListCloudProvisions", "cloud_provision", "", err.Error(), err)
	}

	return rowsToProvisions(rows), nil
}

// listActiveProvisions returns provisions that are pending, creating or
// configuring, oldest first. The provisioner worker resumes these.
func listActiveProvisions(ctx context.Context, exec executor) ([]domain.CloudProvision, error) {
	query := `SELECT * FROM cloud_provisions WHERE status IN (?, ?, ?) ORDER BY created_at ASC`

	var rows []provisionRow
	err := exec.SelectContext(ctx, &rows, query,
		string(domain.ProvisionStatusPending),
		string(domain.ProvisionStatusCreating),
		string(domain.ProvisionStatusConfiguring))
	if err != nil {
		return nil, NewStoreError("ListActiveProvisions", "cloud_provision", "", err.Error(), err)
	}

	return rowsToProvisions(rows), nil
}

func listCloudProvisionsByCredential(ctx context.Context, exec executor, credentialID string) ([]domain.CloudProvision, error) {
	query := `SELECT * FROM cloud_provisions WHERE credential_id = ? ORDER BY created_at DESC`

	var rows []provisionRow
	err := exec.SelectContext(ctx, &rows, query, credentialID)
	if err != nil {
		return nil, NewStoreError("ListCloudProvisionsByCredential", "cloud_provision", "", err.Error(), err)
	}

	return rowsToProvisions(rows), nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToCredential converts a database row to a domain.CloudCredential.
func rowToCredential(row *credentialRow) *domain.CloudCredential {
	return &domain.CloudCredential{
		ID:                   row.ID,
		Name:                 row.Name,
		Provider:             domain.ProviderType(row.Provider),
		CredentialsEncrypted: row.CredentialsEncrypted,
		DefaultRegion:        row.DefaultRegion,
		CreatedAt:            parseTime(row.CreatedAt),
		UpdatedAt:            parseTime(row.UpdatedAt),
	}
}

func provisionToRowMap(prov *domain.CloudProvision) map[string]any {
	return map[string]any{
		"id":                   prov.ID,
		"credential_id":        prov.CredentialID,
		"provider":             string(prov.Provider),
		"status":               string(prov.Status),
		"instance_name":        prov.InstanceName,
		"region":               prov.Region,
		"size":                 prov.Size,
		"provider_instance_id": prov.ProviderInstanceID,
		"public_ip":            prov.PublicIP,
		"node_id":              prov.NodeID,
		"ssh_key_id":           prov.SSHKeyID,
		"current_step":         prov.CurrentStep,
		"error_message":        prov.ErrorMessage,
		"created_at":           formatTime(prov.CreatedAt),
		"updated_at":           formatTime(prov.UpdatedAt),
		"completed_at":         formatTimePtr(prov.CompletedAt),
	}
}

// rowToProvision converts a database row to a domain.CloudProvision.
func rowToProvision(row *provisionRow) *domain.CloudProvision {
	return &domain.CloudProvision{
		ID:                 row.ID,
		CredentialID:       row.CredentialID,
		Provider:           domain.ProviderType(row.Provider),
		Status:             domain.ProvisionStatus(row.Status),
		InstanceName:       row.InstanceName,
		Region:             row.Region,
		Size:               row.Size,
		ProviderInstanceID: row.ProviderInstanceID,
		PublicIP:           row.PublicIP,
		NodeID:             row.NodeID,
		SSHKeyID:           row.SSHKeyID,
		CurrentStep:        row.CurrentStep,
		ErrorMessage:       row.ErrorMessage,
		CreatedAt:          parseTime(row.CreatedAt),
		UpdatedAt:          parseTime(row.UpdatedAt),
		CompletedAt:        parseTimePtr(row.CompletedAt),
	}
}

func rowsToProvisions(rows []provisionRow) []domain.CloudProvision {
	provs := make([]domain.CloudProvision, 0, len(rows))
	for _, row := range rows {
		provs = append(provs, *rowToProvision(&row))
	}
	return provs
}
