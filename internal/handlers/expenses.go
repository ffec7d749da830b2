package handlers

import (
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"dailypa/internal/guard"
	"dailypa/internal/models"
	"dailypa/internal/prefs"
	"dailypa/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ExpenseItem represents an expense in the list view.
type ExpenseItem struct {
	models.Expense
	Time          string
	CategoryStyle CategoryStyle
}

// ExpenseGroup groups expenses by date.
type ExpenseGroup struct {
	Title string
	Date  string
	Total float64
	Items []ExpenseItem
}

// ListViewModel is the data passed to the list view template.
type ListViewModel struct {
	Month      string
	MonthName  string
	Symbol     string
	Total      float64
	Groups     []ExpenseGroup
	Categories []CategoryDef
	Today      string
	Error      string
}

// ListExpenses renders the caller's expenses for a month.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	h.renderExpenses(w, r, http.StatusOK, "")
}

func (h *Handlers) renderExpenses(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	ctx := r.Context()
	uid := guard.UserID(ctx)
	month := monthParam(r, time.Now())

	expenses, err := h.db.ListExpensesByMonth(ctx, uid, month)
	if err != nil {
		h.logger.Error("list expenses failed", zap.String("user_id", uid), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	p, err := h.prefsFor(ctx, uid)
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer p.Close()

	total, groups := groupExpenses(expenses, time.Now())
	h.renderStatus(w, r, status, "expenses.html", ListViewModel{
		Month:      prefs.MonthKey(month),
		MonthName:  month.Format("January 2006"),
		Symbol:     p.currency.Symbol(),
		Total:      total,
		Groups:     groups,
		Categories: categories,
		Today:      time.Now().Format("2006-01-02T15:04"),
		Error:      errMsg,
	})
}

func groupExpenses(expenses []models.Expense, now time.Time) (float64, []ExpenseGroup) {
	groupsMap := make(map[string]*ExpenseGroup)
	var totalSpent float64

	for _, e := range expenses {
		dateStr := e.Date.Format("2006-01-02")
		if _, ok := groupsMap[dateStr]; !ok {
			groupsMap[dateStr] = &ExpenseGroup{Date: dateStr, Title: formatGroupTitle(e.Date, now)}
		}
		group := groupsMap[dateStr]
		group.Total += e.Amount
		totalSpent += e.Amount

		group.Items = append(group.Items, ExpenseItem{
			Expense:       e,
			Time:          e.Date.Format("15:04"),
			CategoryStyle: getCategoryStyle(e.Category),
		})
	}

	groups := make([]ExpenseGroup, 0, len(groupsMap))
	for _, g := range groupsMap {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Date > groups[j].Date })
	return totalSpent, groups
}

// CreateExpense records an expense for the caller.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	amount, desc, cat, date, err := parseForm(r)
	if err != nil {
		h.renderExpenses(w, r, http.StatusBadRequest, err.Error())
		return
	}
	uid := guard.UserID(r.Context())
	if _, err := h.db.CreateExpense(r.Context(), uid, amount, desc, cat, date); err != nil {
		h.logger.Error("create expense failed", zap.String("user_id", uid), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	redirect(w, r, "/expenses?month="+prefs.MonthKey(date))
}

// DeleteExpense removes one of the caller's expenses.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Expense not found", http.StatusNotFound)
		return
	}
	uid := guard.UserID(r.Context())
	if err := h.db.DeleteExpense(r.Context(), uid, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Expense not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete expense failed", zap.String("user_id", uid), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	redirect(w, r, "/expenses")
}

func parseForm(r *http.Request) (amount float64, desc, category string, date time.Time, err error) {
	if err := r.ParseForm(); err != nil {
		return 0, "", "", time.Time{}, err
	}
	amount, err = strconv.ParseFloat(strings.TrimSpace(r.FormValue("amount")), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, "", "", time.Time{}, errors.New("amount must be a positive number")
	}
	desc = strings.TrimSpace(r.FormValue("description"))
	if desc == "" {
		desc = "Expense"
	}
	category = strings.ToLower(r.FormValue("category"))
	if !knownCategory(category) {
		category = "other"
	}
	dateStr := r.FormValue("date")
	if dateStr == "" {
		return 0, "", "", time.Time{}, errors.New("date is required")
	}
	date, err = time.Parse("2006-01-02T15:04", dateStr)
	if err != nil {
		return 0, "", "", time.Time{}, errors.New("date is invalid")
	}
	return amount, desc, category, date, nil
}

// monthParam reads ?month=YYYY-MM, defaulting to the month containing now.
func monthParam(r *http.Request, now time.Time) time.Time {
	if m := r.URL.Query().Get("month"); m != "" {
		if t, err := prefs.ParseMonth(m); err == nil {
			return t
		}
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
