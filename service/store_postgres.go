package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AnTengye/esignflow/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store backed by pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	query := `SELECT id, contract_no, status, flow_id, sign_url, sign_url_expire_at,
		party_name, party_phone, party_id_number, party_type, party_org_name,
		form_data, product_id, created_at, updated_at
		FROM contracts WHERE id = $1`

	var (
		contract model.Contract
		flowID   *string
		signURL  *string
		idNumber *string
		orgName  *string
		formData []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&contract.ID, &contract.ContractNo, &contract.Status, &flowID, &signURL,
		&contract.SignURLExpireAt, &contract.PartyName, &contract.PartyPhone,
		&idNumber, &contract.PartyType, &orgName, &formData,
		&contract.ProductID, &contract.CreatedAt, &contract.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}

	if flowID != nil {
		contract.FlowID = *flowID
	}
	if signURL != nil {
		contract.SignURL = *signURL
	}
	if idNumber != nil {
		contract.PartyIDNumber = *idNumber
	}
	if orgName != nil {
		contract.PartyOrgName = *orgName
	}
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &contract.FormData); err != nil {
			return nil, fmt.Errorf("failed to decode form data: %w", err)
		}
	}
	return &contract, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	query := `SELECT id, name, template_id, deadline_days, field_configs FROM products WHERE id = $1`

	var (
		product      model.Product
		fieldConfigs []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&product.ID, &product.Name, &product.TemplateID, &product.DeadlineDays, &fieldConfigs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	if len(fieldConfigs) > 0 {
		if err := json.Unmarshal(fieldConfigs, &product.FieldConfigs); err != nil {
			return nil, fmt.Errorf("failed to decode field configs: %w", err)
		}
	}
	return &product, nil
}

func (s *PostgresStore) SaveContract(ctx context.Context, contract *model.Contract) error {
	formData, err := json.Marshal(contract.FormData)
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}

	query := `INSERT INTO contracts
		(id, contract_no, status, flow_id, sign_url, sign_url_expire_at,
		 party_name, party_phone, party_id_number, party_type, party_org_name,
		 form_data, product_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), $10, NULLIF($11, ''), $12, $13, $14, now())
		ON CONFLICT (id) DO UPDATE SET
			contract_no = EXCLUDED.contract_no,
			status = EXCLUDED.status,
			flow_id = EXCLUDED.flow_id,
			sign_url = EXCLUDED.sign_url,
			sign_url_expire_at = EXCLUDED.sign_url_expire_at,
			party_name = EXCLUDED.party_name,
			party_phone = EXCLUDED.party_phone,
			party_id_number = EXCLUDED.party_id_number,
			party_type = EXCLUDED.party_type,
			party_org_name = EXCLUDED.party_org_name,
			form_data = EXCLUDED.form_data,
			product_id = EXCLUDED.product_id,
			updated_at = now()`

	createdAt := contract.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, query,
		contract.ID, contract.ContractNo, contract.Status, contract.FlowID,
		contract.SignURL, contract.SignURLExpireAt, contract.PartyName,
		contract.PartyPhone, contract.PartyIDNumber, contract.PartyType,
		contract.PartyOrgName, formData, contract.ProductID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveProduct(ctx context.Context, product *model.Product) error {
	fieldConfigs, err := json.Marshal(product.FieldConfigs)
	if err != nil {
		return fmt.Errorf("failed to encode field configs: %w", err)
	}

	query := `INSERT INTO products (id, name, template_id, deadline_days, field_configs)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			template_id = EXCLUDED.template_id,
			deadline_days = EXCLUDED.deadline_days,
			field_configs = EXCLUDED.field_configs`

	_, err = s.pool.Exec(ctx, query,
		product.ID, product.Name, product.TemplateID, product.DeadlineDays, fieldConfigs,
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompareAndSwapStatus(ctx context.Context, id string, from, to model.ContractStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.statusConflict(ctx, id, from)
	}
	return nil
}

func (s *PostgresStore) CommitSigning(ctx context.Context, id, flowID, signURL string, expireAt time.Time, from, to model.ContractStatus, operatorID, remark string) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE contracts SET flow_id = $1, sign_url = $2, sign_url_expire_at = $3,
			status = $4, updated_at = now()
		WHERE id = $5 AND status = $6`,
		flowID, signURL, expireAt, to, id, model.StatusInitiating,
	)
	if err != nil {
		return fmt.Errorf("failed to commit signing result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.statusConflict(ctx, id, model.StatusInitiating)
	}

	if err := insertStatusLog(ctx, tx, id, &from, to, operatorID, remark); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateSignURL(ctx context.Context, id, signURL string, expireAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET sign_url = $1, sign_url_expire_at = $2, updated_at = now() WHERE id = $3`,
		signURL, expireAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sign url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.ContractStatus, operatorID, remark string) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.statusConflict(ctx, id, from)
	}

	if err := insertStatusLog(ctx, tx, id, &from, to, operatorID, remark); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListStatusLog(ctx context.Context, contractID string) ([]model.StatusLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, from_status, to_status, operator_id, remark, created_at
		FROM contract_status_logs WHERE contract_id = $1 ORDER BY created_at, id`,
		contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query status log: %w", err)
	}
	defer rows.Close()

	var entries []model.StatusLogEntry
	for rows.Next() {
		var (
			entry      model.StatusLogEntry
			operatorID *string
			remark     *string
		)
		if err := rows.Scan(&entry.ID, &entry.ContractID, &entry.FromStatus,
			&entry.ToStatus, &operatorID, &remark, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status log entry: %w", err)
		}
		if operatorID != nil {
			entry.OperatorID = *operatorID
		}
		if remark != nil {
			entry.Remark = *remark
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// statusConflict distinguishes a missing contract from a CAS mismatch
func (s *PostgresStore) statusConflict(ctx context.Context, id string, expected model.ContractStatus) error {
	var current model.ContractStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM contracts WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query contract status: %w", err)
	}
	return &PreconditionError{Reason: fmt.Sprintf("contract %s is %s, expected %s", id, current, expected)}
}

func insertStatusLog(ctx context.Context, tx pgx.Tx, contractID string, from *model.ContractStatus, to model.ContractStatus, operatorID, remark string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO contract_status_logs (id, contract_id, from_status, to_status, operator_id, remark, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), now())`,
		uuid.New().String(), contractID, from, to, operatorID, remark,
	)
	if err != nil {
		return fmt.Errorf("failed to append status log: %w", err)
	}
	return nil
}
