package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dailypa/internal/models"
)

// CreateExpense inserts a new expense for a user.
func (db *DB) CreateExpense(ctx context.Context, userID string, amount float64, description, category string, date time.Time) (int64, error) {
	if date.IsZero() {
		date = time.Now()
	}
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses (user_id, amount, description, category, date) VALUES (?, ?, ?, ?, ?)",
		userID, amount, description, category, date.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetExpense retrieves a single expense owned by userID.
func (db *DB) GetExpense(ctx context.Context, userID string, id int64) (*models.Expense, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, amount, description, category, date FROM expenses WHERE id = ? AND user_id = ?",
		id, userID,
	)
	var e models.Expense
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Category, &e.Date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// DeleteExpense removes an expense owned by userID.
func (db *DB) DeleteExpense(ctx context.Context, userID string, id int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpensesByMonth retrieves a user's expenses for the month starting at
// month, ordered by date descending.
func (db *DB) ListExpensesByMonth(ctx context.Context, userID string, month time.Time) ([]models.Expense, error) {
	start, end := monthBounds(month)
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, amount, description, category, date FROM expenses WHERE user_id = ? AND date >= ? AND date < ? ORDER BY date DESC",
		userID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Category, &e.Date); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// CategoryTotal is the spend of one category in a month.
type CategoryTotal struct {
	Category string
	Total    float64
	Count    int
}

// CategoryTotalsByMonth sums a user's spend per category, largest first.
func (db *DB) CategoryTotalsByMonth(ctx context.Context, userID string, month time.Time) ([]CategoryTotal, error) {
	start, end := monthBounds(month)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT category, SUM(amount), COUNT(*) FROM expenses
		WHERE user_id = ? AND date >= ? AND date < ?
		GROUP BY category ORDER BY SUM(amount) DESC
	`, userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, err
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

func monthBounds(month time.Time) (time.Time, time.Time) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
