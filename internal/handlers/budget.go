package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dailypa/internal/guard"
	"dailypa/internal/prefs"
	"dailypa/internal/storage"

	"go.uber.org/zap"
)

// StatsCategoryItem represents a category with its spending statistics.
type StatsCategoryItem struct {
	Category      string
	Total         float64
	Count         int
	Percentage    float64
	CategoryStyle CategoryStyle
}

// BudgetViewModel is the month summary shown on the dashboard and budget pages.
type BudgetViewModel struct {
	Greeting       string
	Month          string
	MonthName      string
	Symbol         string
	Total          float64
	Budget         float64
	Remaining      float64
	UsedPercent    float64
	OverBudget     bool
	Categories     []StatsCategoryItem
	PrevMonth      string
	NextMonth      string
	IsCurrentMonth bool
	Error          string
}

func (h *Handlers) monthSummary(ctx context.Context, uid string, month, now time.Time, p *userPrefs) (BudgetViewModel, error) {
	categoryTotals, err := h.db.CategoryTotalsByMonth(ctx, uid, month)
	if err != nil {
		return BudgetViewModel{}, err
	}

	var total float64
	for _, ct := range categoryTotals {
		total += ct.Total
	}
	categoryItems := make([]StatsCategoryItem, 0, len(categoryTotals))
	for _, ct := range categoryTotals {
		categoryItems = append(categoryItems, statsItem(ct, total))
	}

	key := prefs.MonthKey(month)
	budget := p.budget.GetBudget(key)
	vm := BudgetViewModel{
		Month:          key,
		MonthName:      month.Format("January 2006"),
		Symbol:         p.currency.Symbol(),
		Total:          total,
		Budget:         budget,
		Remaining:      budget - total,
		OverBudget:     budget > 0 && total > budget,
		Categories:     categoryItems,
		PrevMonth:      prefs.MonthKey(month.AddDate(0, -1, 0)),
		NextMonth:      prefs.MonthKey(month.AddDate(0, 1, 0)),
		IsCurrentMonth: key == prefs.MonthKey(now),
	}
	if budget > 0 {
		vm.UsedPercent = total / budget * 100
	}
	return vm, nil
}

func statsItem(ct storage.CategoryTotal, total float64) StatsCategoryItem {
	percentage := 0.0
	if total > 0 {
		percentage = (ct.Total / total) * 100
	}
	return StatsCategoryItem{
		Category:      ct.Category,
		Total:         ct.Total,
		Count:         ct.Count,
		Percentage:    percentage,
		CategoryStyle: getCategoryStyle(ct.Category),
	}
}

// Dashboard renders the signed-in landing page.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.renderSummary(w, r, "dashboard.html", http.StatusOK, "")
}

// Budget renders the monthly budget page.
func (h *Handlers) Budget(w http.ResponseWriter, r *http.Request) {
	h.renderSummary(w, r, "budget.html", http.StatusOK, "")
}

func (h *Handlers) renderSummary(w http.ResponseWriter, r *http.Request, view string, status int, errMsg string) {
	ctx := r.Context()
	uid := guard.UserID(ctx)
	now := time.Now()

	p, err := h.prefsFor(ctx, uid)
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer p.Close()

	vm, err := h.monthSummary(ctx, uid, monthParam(r, now), now, p)
	if err != nil {
		h.logger.Error("month summary failed", zap.String("user_id", uid), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	vm.Greeting = p.profile.Profile().FullName
	vm.Error = errMsg
	h.renderStatus(w, r, status, view, vm)
}

// SetBudget stores the budget for a month.
func (h *Handlers) SetBudget(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderSummary(w, r, "budget.html", http.StatusBadRequest, "Invalid form submission")
		return
	}
	month := r.FormValue("month")
	amount, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("amount")), 64)
	if err != nil {
		h.renderSummary(w, r, "budget.html", http.StatusBadRequest, "amount must be a number")
		return
	}

	p, err := h.prefsFor(r.Context(), guard.UserID(r.Context()))
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	err = p.budget.SetBudget(month, amount)
	p.Close()
	if err != nil {
		h.renderSummary(w, r, "budget.html", http.StatusBadRequest, authMessage(err, "Could not save the budget"))
		return
	}
	redirect(w, r, "/budget?month="+month)
}
