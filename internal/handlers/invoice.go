package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/diewo77/go-factures/internal/auth"
	"github.com/diewo77/go-factures/internal/httpx"
	"github.com/diewo77/go-factures/internal/models"
	"github.com/diewo77/go-factures/internal/pdf"
	"github.com/diewo77/go-factures/internal/services"
	"github.com/diewo77/go-factures/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxInvoiceNameLen mirrors the length cap enforced by the creation form.
const maxInvoiceNameLen = 60

type InvoiceHandler struct {
	db  *gorm.DB
	svc *services.InvoiceService
	log *zap.Logger
}

func NewInvoiceHandler(db *gorm.DB, svc *services.InvoiceService, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{db: db, svc: svc, log: log}
}

// currentUser loads the authenticated user's record.
func (h *InvoiceHandler) currentUser(r *http.Request) (*models.User, error) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return nil, errors.New("no user in context")
	}
	var user models.User
	if err := h.db.WithContext(r.Context()).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type invoiceView struct {
	*models.Invoice
	Totals models.Totals `json:"totals"`
}

func (h *InvoiceHandler) view(inv *models.Invoice) invoiceView {
	return invoiceView{Invoice: inv, Totals: h.svc.ComputeTotals(inv)}
}

// List: GET /invoices
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	invoices, err := h.svc.InvoicesByEmail(r.Context(), user.Email)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.JSON(w, http.StatusOK, map[string]any{"items": []invoiceView{}, "total": 0})
			return
		}
		h.log.Error("list invoices", zap.String("email", user.Email), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_list_invoices", nil)
		return
	}

	items := make([]invoiceView, 0, len(invoices))
	for i := range invoices {
		items = append(items, h.view(&invoices[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// Create: POST /invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	v := make(validation.Violations)
	validation.MaxLen("name", req.Name, maxInvoiceNameLen, v)
	if !v.Empty() {
		httpx.Error(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	inv, err := h.svc.CreateEmptyInvoice(r.Context(), user.Email, req.Name)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "user_not_found", nil)
			return
		}
		h.log.Error("create invoice", zap.String("email", user.Email), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_create_invoice", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(inv))
}

// View: GET /invoices/{id}
func (h *InvoiceHandler) View(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	inv, err := h.svc.InvoiceByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "invoice_not_found", nil)
			return
		}
		h.log.Error("view invoice", zap.String("invoice_id", id), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_load_invoice", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(inv))
}

// Update: PUT /invoices/{id}
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var in services.UpdateInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	in.ID = id

	inv, err := h.svc.Update(r.Context(), in)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "invoice_not_found", nil)
			return
		}
		h.log.Error("update invoice", zap.String("invoice_id", id), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_update_invoice", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(inv))
}

// Delete: DELETE /invoices/{id}
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "invoice_not_found", nil)
			return
		}
		h.log.Error("delete invoice", zap.String("invoice_id", id), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_delete_invoice", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PDF: GET /invoices/{id}/pdf
func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	inv, err := h.svc.InvoiceByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "invoice_not_found", nil)
			return
		}
		h.log.Error("load invoice for pdf", zap.String("invoice_id", id), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_load_invoice", nil)
		return
	}

	doc, err := pdf.Render(pdf.Data{Invoice: *inv, Totals: h.svc.ComputeTotals(inv)})
	if err != nil {
		h.log.Error("render pdf", zap.String("invoice_id", id), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, "failed_to_render_pdf", nil)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=facture-%s.pdf", inv.ID))
	_, _ = w.Write(doc)
}
