package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"dreamie/internal/domain"
)

// GrantStaffTx adds or renames a roster entry.
func (r Repo) GrantStaffTx(ctx context.Context, tx *sql.Tx, m domain.StaffMember) error {
	if strings.TrimSpace(m.AccountID) == "" {
		return errors.New("account_id required")
	}
	if m.Handle == "" {
		m.Handle = m.AccountID
	}
	if m.GrantedAt == "" {
		m.GrantedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO staff(account_id,handle,granted_by,granted_at) VALUES (?,?,?,?)
ON CONFLICT(account_id) DO UPDATE SET handle=excluded.handle`,
		m.AccountID, m.Handle, m.GrantedBy, m.GrantedAt)
	return err
}

// RevokeStaffTx removes a roster entry; ErrNotFound when absent.
func (r Repo) RevokeStaffTx(ctx context.Context, tx *sql.Tx, accountID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM staff WHERE account_id=?`, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetStaff(ctx context.Context, accountID string) (domain.StaffMember, error) {
	var m domain.StaffMember
	err := r.DB.QueryRowContext(ctx, `SELECT account_id,handle,granted_by,granted_at FROM staff WHERE account_id=?`, accountID).
		Scan(&m.AccountID, &m.Handle, &m.GrantedBy, &m.GrantedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListStaff(ctx context.Context) ([]domain.StaffMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT account_id,handle,granted_by,granted_at FROM staff ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StaffMember
	for rows.Next() {
		var m domain.StaffMember
		if err := rows.Scan(&m.AccountID, &m.Handle, &m.GrantedBy, &m.GrantedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
