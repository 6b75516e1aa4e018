package services

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/diewo77/go-factures/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Invoice{}, &models.InvoiceLine{}))
	return db
}

func newService(t *testing.T) (*InvoiceService, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	return NewInvoiceService(db, zap.NewNop()), db
}

func seedUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	u := models.User{Email: email, Name: "Test User"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func TestCheckAndAddUser(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	user, err := svc.CheckAndAddUser(ctx, "a@example.com", "Alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Alice", user.Name)

	// second sighting returns the same record, no duplicate
	again, err := svc.CheckAndAddUser(ctx, "a@example.com", "Other Name")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Alice", again.Name)

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCheckAndAddUserNoops(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	user, err := svc.CheckAndAddUser(ctx, "", "Alice")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = svc.CheckAndAddUser(ctx, "noname@example.com", "")
	require.NoError(t, err)
	assert.Nil(t, user)

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGenerateUniqueID(t *testing.T) {
	svc, db := newService(t)
	seedUser(t, db, "id@example.com")
	ctx := context.Background()

	hexID := regexp.MustCompile(`^[0-9a-f]{6}$`)
	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		inv, err := svc.CreateEmptyInvoice(ctx, "id@example.com", fmt.Sprintf("inv %d", i))
		require.NoError(t, err)
		assert.Regexp(t, hexID, inv.ID)
		assert.False(t, seen[inv.ID], "id %s issued twice", inv.ID)
		seen[inv.ID] = true
	}
}

func TestCreateEmptyInvoiceDefaults(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "new@example.com")

	inv, err := svc.CreateEmptyInvoice(context.Background(), "new@example.com", "Mission mars")
	require.NoError(t, err)

	var stored models.Invoice
	require.NoError(t, db.Preload("Lines").First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, user.ID, stored.UserID)
	assert.Equal(t, "Mission mars", stored.Name)
	assert.Equal(t, models.StatusDraft, stored.Status)
	assert.False(t, stored.VATActive)
	assert.Equal(t, 20.0, stored.VATRate)
	assert.Empty(t, stored.IssuerName)
	assert.Empty(t, stored.ClientName)
	assert.Empty(t, stored.InvoiceDate)
	assert.Empty(t, stored.DueDate)
	assert.Empty(t, stored.Lines)
}

func TestCreateEmptyInvoiceUnknownEmail(t *testing.T) {
	svc, db := newService(t)

	inv, err := svc.CreateEmptyInvoice(context.Background(), "ghost@example.com", "x")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, inv)

	var count int64
	db.Model(&models.Invoice{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestOverduePromotion(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "due@example.com")

	invoices := []models.Invoice{
		{ID: "aaaaaa", UserID: user.ID, Status: models.StatusPending, DueDate: "2020-01-01", VATRate: 20},
		{ID: "bbbbbb", UserID: user.ID, Status: models.StatusPending, DueDate: "2999-01-01", VATRate: 20},
		{ID: "cccccc", UserID: user.ID, Status: models.StatusPaid, DueDate: "2020-01-01", VATRate: 20},
		{ID: "dddddd", UserID: user.ID, Status: models.StatusPending, DueDate: "", VATRate: 20},
	}
	for i := range invoices {
		require.NoError(t, db.Create(&invoices[i]).Error)
	}

	got, err := svc.InvoicesByEmail(context.Background(), "due@example.com")
	require.NoError(t, err)
	require.Len(t, got, 4)

	byID := make(map[string]models.Invoice, len(got))
	for _, inv := range got {
		byID[inv.ID] = inv
	}
	assert.Equal(t, models.StatusOverdue, byID["aaaaaa"].Status, "pending past-due must be promoted")
	assert.Equal(t, models.StatusPending, byID["bbbbbb"].Status, "future due date must stay pending")
	assert.Equal(t, models.StatusPaid, byID["cccccc"].Status, "paid invoices are never promoted")
	assert.Equal(t, models.StatusPending, byID["dddddd"].Status, "empty due date is never past due")

	// promotion is persisted, not just reflected in the return value
	var stored models.Invoice
	require.NoError(t, db.First(&stored, "id = ?", "aaaaaa").Error)
	assert.Equal(t, models.StatusOverdue, stored.Status)
}

func TestInvoicesByEmailUnknownUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.InvoicesByEmail(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestComputeTotals(t *testing.T) {
	svc, _ := newService(t)

	inv := models.Invoice{
		VATActive: true,
		VATRate:   20,
		Lines: []models.InvoiceLine{
			{Quantity: 2, UnitPrice: 10},
			{Quantity: 1, UnitPrice: 5},
		},
	}
	totals := svc.ComputeTotals(&inv)
	assert.Equal(t, 25.0, totals.HT)
	assert.Equal(t, 5.0, totals.VAT)
	assert.Equal(t, 30.0, totals.TTC)

	inv.VATActive = false
	totals = svc.ComputeTotals(&inv)
	assert.Equal(t, 25.0, totals.HT)
	assert.Equal(t, 0.0, totals.VAT)
	assert.Equal(t, 25.0, totals.TTC)
}

func seedInvoiceWithLine(t *testing.T, db *gorm.DB, user models.User) (models.Invoice, models.InvoiceLine) {
	t.Helper()
	inv := models.Invoice{ID: "f00d01", UserID: user.ID, Status: models.StatusDraft, VATRate: 20}
	require.NoError(t, db.Create(&inv).Error)
	line := models.InvoiceLine{InvoiceID: inv.ID, Description: "A", Quantity: 1, UnitPrice: 10}
	require.NoError(t, db.Create(&line).Error)
	return inv, line
}

func updateInputFor(inv models.Invoice) UpdateInput {
	return UpdateInput{
		ID:      inv.ID,
		VATRate: inv.VATRate,
		Status:  inv.Status,
	}
}

func TestUpdateScalars(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "upd@example.com")
	inv, _ := seedInvoiceWithLine(t, db, user)

	in := updateInputFor(inv)
	in.IssuerName = "ACME"
	in.IssuerAddress = "1 rue de la Paix"
	in.ClientName = "Globex"
	in.ClientAddress = "2 avenue du Port"
	in.InvoiceDate = "2026-08-01"
	in.DueDate = "2026-09-01"
	in.VATActive = true
	in.VATRate = 10
	in.Status = models.StatusPending

	got, err := svc.Update(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.IssuerName)
	assert.Equal(t, "Globex", got.ClientName)
	assert.Equal(t, "2026-08-01", got.InvoiceDate)
	assert.Equal(t, "2026-09-01", got.DueDate)
	assert.True(t, got.VATActive)
	assert.Equal(t, 10.0, got.VATRate)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestUpdateMissingInvoice(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Update(context.Background(), UpdateInput{ID: "nosuch"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileUnchangedLineIsDuplicated(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "dup@example.com")
	inv, line := seedInvoiceWithLine(t, db, user)

	in := updateInputFor(inv)
	in.Lines = []LineInput{{ID: line.ID, Description: "A", Quantity: 1, UnitPrice: 10}}

	got, err := svc.Update(context.Background(), in)
	require.NoError(t, err)

	// the resubmitted unchanged line is kept AND re-inserted as a new row
	require.Len(t, got.Lines, 2)
	ids := []uint{got.Lines[0].ID, got.Lines[1].ID}
	assert.Contains(t, ids, line.ID)
	for _, l := range got.Lines {
		assert.Equal(t, "A", l.Description)
		assert.Equal(t, 1.0, l.Quantity)
		assert.Equal(t, 10.0, l.UnitPrice)
	}
}

func TestReconcileChangedLineUpdatedInPlace(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "chg@example.com")
	inv, line := seedInvoiceWithLine(t, db, user)

	in := updateInputFor(inv)
	in.Lines = []LineInput{{ID: line.ID, Description: "A", Quantity: 3, UnitPrice: 10}}

	got, err := svc.Update(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, line.ID, got.Lines[0].ID)
	assert.Equal(t, 3.0, got.Lines[0].Quantity)
}

func TestReconcileEmptySubmissionDeletesAll(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "del@example.com")
	inv, _ := seedInvoiceWithLine(t, db, user)

	in := updateInputFor(inv)
	in.Lines = nil

	got, err := svc.Update(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)

	var count int64
	db.Model(&models.InvoiceLine{}).Where("invoice_id = ?", inv.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestReconcileUnknownLineIsDropped(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "new-line@example.com")
	inv := models.Invoice{ID: "f00d02", UserID: user.ID, Status: models.StatusDraft, VATRate: 20}
	require.NoError(t, db.Create(&inv).Error)

	in := updateInputFor(inv)
	in.Lines = []LineInput{{ID: 999, Description: "New", Quantity: 1, UnitPrice: 1}}

	got, err := svc.Update(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, got.Lines, "lines the server never issued are not created")
}

func TestUpdateRollsBackOnLineFailure(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "atomic@example.com")
	inv, line := seedInvoiceWithLine(t, db, user)

	// make every line insert blow up so the re-insert of the unchanged
	// line fails inside the transaction
	require.NoError(t, db.Exec(
		`CREATE TRIGGER fail_line_insert BEFORE INSERT ON invoice_lines
		 BEGIN SELECT RAISE(ABORT, 'boom'); END`,
	).Error)

	in := updateInputFor(inv)
	in.IssuerName = "ACME"
	in.Lines = []LineInput{{ID: line.ID, Description: "A", Quantity: 1, UnitPrice: 10}}

	_, err := svc.Update(context.Background(), in)
	require.Error(t, err)

	// the scalar update must have been rolled back along with the lines
	var stored models.Invoice
	require.NoError(t, db.Preload("Lines").First(&stored, "id = ?", inv.ID).Error)
	assert.Empty(t, stored.IssuerName)
	assert.Len(t, stored.Lines, 1)
}

func TestGenerateUniqueIDExhaustion(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "full@example.com")

	taken := models.Invoice{ID: "aaaaaa", UserID: user.ID, Status: models.StatusDraft, VATRate: 20}
	require.NoError(t, db.Create(&taken).Error)

	// every draw collides with the invoice seeded above
	orig := randRead
	randRead = func(b []byte) (int, error) {
		for i := range b {
			b[i] = 0xaa
		}
		return len(b), nil
	}
	defer func() { randRead = orig }()

	_, err := svc.CreateEmptyInvoice(context.Background(), "full@example.com", "never")
	require.ErrorIs(t, err, ErrIDSpaceExhausted)

	var count int64
	db.Model(&models.Invoice{}).Count(&count)
	assert.Equal(t, int64(1), count, "no invoice may be created on exhaustion")
}

func TestDelete(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "rm@example.com")
	inv, _ := seedInvoiceWithLine(t, db, user)

	require.NoError(t, svc.Delete(context.Background(), inv.ID))

	var count int64
	db.Model(&models.Invoice{}).Where("id = ?", inv.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDeleteMissing(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Delete(context.Background(), "nosuch")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevenue(t *testing.T) {
	svc, db := newService(t)
	user := seedUser(t, db, "rev@example.com")

	paid := models.Invoice{ID: "aaaa01", UserID: user.ID, Status: models.StatusPaid, VATActive: true, VATRate: 20}
	require.NoError(t, db.Create(&paid).Error)
	require.NoError(t, db.Create(&models.InvoiceLine{InvoiceID: paid.ID, Description: "x", Quantity: 2, UnitPrice: 10}).Error)

	pending := models.Invoice{ID: "aaaa02", UserID: user.ID, Status: models.StatusPending, VATRate: 20}
	require.NoError(t, db.Create(&pending).Error)
	require.NoError(t, db.Create(&models.InvoiceLine{InvoiceID: pending.ID, Description: "y", Quantity: 1, UnitPrice: 100}).Error)

	total, err := svc.Revenue(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 24.0, total) // 2*10 HT + 20% VAT; unpaid invoices excluded
}
