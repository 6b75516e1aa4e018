package models

import "time"

// InvoiceStatus is the closed set of invoice states.
type InvoiceStatus int

const (
	StatusDraft     InvoiceStatus = 1
	StatusPending   InvoiceStatus = 2
	StatusPaid      InvoiceStatus = 3
	StatusCancelled InvoiceStatus = 4
	StatusOverdue   InvoiceStatus = 5
)

// DateLayout is the date-only format used for invoice and due dates.
const DateLayout = "2006-01-02"

// Invoice represents a billing invoice. The primary key is a short random
// hex token generated at creation time, not an auto-increment.
type Invoice struct {
	ID        string    `gorm:"primaryKey;size:6" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint `gorm:"index;not null" json:"user_id"`
	User   User `gorm:"foreignKey:UserID" json:"-"`

	Name          string `gorm:"size:255" json:"name"`
	IssuerName    string `gorm:"size:255" json:"issuer_name"`
	IssuerAddress string `gorm:"size:500" json:"issuer_address"`
	ClientName    string `gorm:"size:255" json:"client_name"`
	ClientAddress string `gorm:"size:500" json:"client_address"`

	// Dates are stored as date-only strings; an empty string means the user
	// has not picked a date yet.
	InvoiceDate string `gorm:"size:10" json:"invoice_date"`
	DueDate     string `gorm:"size:10" json:"due_date"`

	VATActive bool    `json:"vat_active"`
	VATRate   float64 `gorm:"default:20" json:"vat_rate"`

	Status InvoiceStatus `gorm:"default:1" json:"status"`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"lines"`
}

// IsPastDue reports whether the due date is strictly before now.
// Unparseable or empty due dates are never past due.
func (i *Invoice) IsPastDue(now time.Time) bool {
	due, err := time.Parse(DateLayout, i.DueDate)
	if err != nil {
		return false
	}
	return due.Before(now)
}

// InvoiceLine is one line item on an invoice. Line identity has no meaning
// outside its parent invoice. Quantity and unit price carry no sign
// constraint.
type InvoiceLine struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	InvoiceID string `gorm:"index;size:6;not null" json:"invoice_id"`

	Description string  `gorm:"size:500" json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// AmountHT is the pre-tax amount for this line.
func (l *InvoiceLine) AmountHT() float64 {
	return l.Quantity * l.UnitPrice
}

// Totals holds the computed amounts for one invoice.
type Totals struct {
	HT  float64 `json:"totalHT"`
	VAT float64 `json:"totalVAT"`
	TTC float64 `json:"totalTTC"`
}
