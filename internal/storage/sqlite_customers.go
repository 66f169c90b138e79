package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

type sqliteCustomerRepo struct {
	db *sql.DB
}

func (r *sqliteCustomerRepo) Insert(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (id, name, email, notification_enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		customer.ID, customer.Name, customer.Email,
		boolToInt(customer.NotificationEnabled), customer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (r *sqliteCustomerRepo) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	query := "SELECT id, name, email, notification_enabled, created_at FROM customers WHERE id = ?"
	customer, err := scanCustomer(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return customer, nil
}

func (r *sqliteCustomerRepo) List(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, email, notification_enabled, created_at FROM customers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	return customers, rows.Err()
}

func (r *sqliteCustomerRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&count); err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return count, nil
}

func scanCustomer(row scanner) (*models.Customer, error) {
	customer := &models.Customer{}
	var enabled int

	err := row.Scan(&customer.ID, &customer.Name, &customer.Email, &enabled, &customer.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}

	customer.NotificationEnabled = enabled != 0
	return customer, nil
}
