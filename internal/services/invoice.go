package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-factures/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Sentinel errors returned by the invoice operations. Callers branch on
// these with errors.Is instead of inspecting a nil result.
var (
	ErrNotFound         = errors.New("not found")
	ErrIDSpaceExhausted = errors.New("invoice id space exhausted")
)

// maxIDAttempts bounds the collision-retry loop of the id generator.
const maxIDAttempts = 64

// randRead is swappable in tests to force id collisions.
var randRead = rand.Read

// InvoiceService implements the invoice lifecycle over an injected
// database handle.
type InvoiceService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewInvoiceService(db *gorm.DB, log *zap.Logger) *InvoiceService {
	return &InvoiceService{db: db, log: log}
}

// CheckAndAddUser upserts a user record keyed by email, as reported by the
// identity provider. An existing user is returned untouched. A blank email,
// or an unknown email with a blank name, is a no-op returning (nil, nil).
func (s *InvoiceService) CheckAndAddUser(ctx context.Context, email, name string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		return &user, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("lookup user %s: %w", email, err)
	}
	if name == "" {
		return nil, nil
	}
	user = models.User{Email: email, Name: name}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	return &user, nil
}

// generateUniqueID draws 3 random bytes and hex-encodes them into a
// 6-character lowercase token, retrying while the candidate collides with
// an existing invoice. The loop is bounded so a saturated keyspace surfaces
// as ErrIDSpaceExhausted instead of spinning.
func (s *InvoiceService) generateUniqueID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		buf := make([]byte, 3)
		if _, err := randRead(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		id := hex.EncodeToString(buf)

		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check id %s: %w", id, err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

// CreateEmptyInvoice creates a draft invoice with all text fields blank for
// the user owning the given email. ErrNotFound when no such user exists; in
// that case nothing is persisted.
func (s *InvoiceService) CreateEmptyInvoice(ctx context.Context, email, name string) (*models.Invoice, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("lookup user %s: %w", email, err)
	}

	id, err := s.generateUniqueID(ctx)
	if err != nil {
		return nil, err
	}

	inv := models.Invoice{
		ID:        id,
		UserID:    user.ID,
		Name:      name,
		VATActive: false,
		VATRate:   20,
		Status:    models.StatusDraft,
	}
	if err := s.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, fmt.Errorf("create invoice %s: %w", id, err)
	}
	return &inv, nil
}

// InvoicesByEmail returns all invoices (with lines) owned by the user with
// the given email. Pending invoices whose due date has passed are promoted
// to Overdue on the way out. Each promotion is its own update: a failed one
// is logged and the stale record returned, and a crash mid-batch may leave
// some invoices promoted and others not.
func (s *InvoiceService) InvoicesByEmail(ctx context.Context, email string) ([]models.Invoice, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Invoices.Lines").Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("lookup user %s: %w", email, err)
	}

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range user.Invoices {
		inv := &user.Invoices[i]
		if inv.Status != models.StatusPending || !inv.IsPastDue(now) {
			continue
		}
		g.Go(func() error {
			err := s.db.WithContext(gctx).Model(&models.Invoice{}).
				Where("id = ?", inv.ID).
				Update("status", models.StatusOverdue).Error
			if err != nil {
				s.log.Warn("overdue promotion failed",
					zap.String("invoice_id", inv.ID), zap.Error(err))
				return nil
			}
			inv.Status = models.StatusOverdue
			return nil
		})
	}
	_ = g.Wait()

	return user.Invoices, nil
}

// InvoiceByID fetches one invoice with its lines.
func (s *InvoiceService) InvoiceByID(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.WithContext(ctx).Preload("Lines").First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load invoice %s: %w", id, err)
	}
	return &inv, nil
}

// LineInput is one client-submitted line. ID refers to an existing
// persisted line; ids the server has never issued identify lines created
// client-side.
type LineInput struct {
	ID          uint    `json:"id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// UpdateInput carries the full client-side state of one invoice.
type UpdateInput struct {
	ID            string               `json:"id"`
	IssuerName    string               `json:"issuer_name"`
	IssuerAddress string               `json:"issuer_address"`
	ClientName    string               `json:"client_name"`
	ClientAddress string               `json:"client_address"`
	InvoiceDate   string               `json:"invoice_date"`
	DueDate       string               `json:"due_date"`
	VATActive     bool                 `json:"vat_active"`
	VATRate       float64              `json:"vat_rate"`
	Status        models.InvoiceStatus `json:"status"`
	Lines         []LineInput          `json:"lines"`
}

// Update overwrites the invoice's scalar fields unconditionally and
// reconciles its persisted line set against the submitted one, all inside a
// single transaction so a failure partway through rolls back cleanly.
func (s *InvoiceService) Update(ctx context.Context, in UpdateInput) (*models.Invoice, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Invoice
		if err := tx.Preload("Lines").First(&existing, "id = ?", in.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("invoice %s: %w", in.ID, ErrNotFound)
			}
			return fmt.Errorf("load invoice %s: %w", in.ID, err)
		}

		updates := map[string]any{
			"issuer_name":    in.IssuerName,
			"issuer_address": in.IssuerAddress,
			"client_name":    in.ClientName,
			"client_address": in.ClientAddress,
			"invoice_date":   in.InvoiceDate,
			"due_date":       in.DueDate,
			"vat_active":     in.VATActive,
			"vat_rate":       in.VATRate,
			"status":         in.Status,
		}
		if err := tx.Model(&models.Invoice{}).Where("id = ?", in.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update invoice %s: %w", in.ID, err)
		}

		return reconcileLines(tx, &existing, in.Lines)
	})
	if err != nil {
		return nil, err
	}
	return s.InvoiceByID(ctx, in.ID)
}

// reconcileLines applies the submitted line set over the persisted one.
// Lines absent from the submission are batch-deleted; lines whose fields
// changed are updated in place, keeping their id. Two quirks of the client
// contract: a resubmitted line with identical fields is re-inserted as a
// new row, and a line whose id is not recognized is ignored entirely.
// TODO: insert unrecognized lines instead of dropping them, once the client
// stops minting temporary ids that look like persisted ones.
func reconcileLines(tx *gorm.DB, existing *models.Invoice, received []LineInput) error {
	existingByID := make(map[uint]models.InvoiceLine, len(existing.Lines))
	for _, l := range existing.Lines {
		existingByID[l.ID] = l
	}
	receivedIDs := make(map[uint]bool, len(received))
	for _, l := range received {
		receivedIDs[l.ID] = true
	}

	var toDelete []uint
	for _, l := range existing.Lines {
		if !receivedIDs[l.ID] {
			toDelete = append(toDelete, l.ID)
		}
	}
	if len(toDelete) > 0 {
		if err := tx.Delete(&models.InvoiceLine{}, toDelete).Error; err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
	}

	for _, l := range received {
		prev, ok := existingByID[l.ID]
		if !ok {
			continue
		}
		changed := l.Description != prev.Description ||
			l.Quantity != prev.Quantity ||
			l.UnitPrice != prev.UnitPrice
		if changed {
			err := tx.Model(&models.InvoiceLine{}).Where("id = ?", l.ID).Updates(map[string]any{
				"description": l.Description,
				"quantity":    l.Quantity,
				"unit_price":  l.UnitPrice,
			}).Error
			if err != nil {
				return fmt.Errorf("update line %d: %w", l.ID, err)
			}
			continue
		}
		dup := models.InvoiceLine{
			InvoiceID:   existing.ID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
		if err := tx.Create(&dup).Error; err != nil {
			return fmt.Errorf("reinsert line %d: %w", l.ID, err)
		}
	}
	return nil
}

// Delete hard-deletes an invoice; its lines go with it via the FK cascade.
func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Invoice{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete invoice %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return nil
}

// ComputeTotals derives the invoice totals from its lines. Amounts stay in
// full float64 precision; rounding is a presentation concern.
func (s *InvoiceService) ComputeTotals(inv *models.Invoice) models.Totals {
	var ht float64
	for i := range inv.Lines {
		ht += inv.Lines[i].AmountHT()
	}
	var vat float64
	if inv.VATActive {
		vat = ht * inv.VATRate / 100
	}
	return models.Totals{HT: ht, VAT: vat, TTC: ht + vat}
}

// Revenue sums the tax-inclusive totals of a user's paid invoices.
func (s *InvoiceService) Revenue(ctx context.Context, userID uint) (float64, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusPaid).
		Preload("Lines").
		Find(&invoices).Error
	if err != nil {
		return 0, fmt.Errorf("load paid invoices: %w", err)
	}
	var total float64
	for i := range invoices {
		total += s.ComputeTotals(&invoices[i]).TTC
	}
	return total, nil
}
