package ledger

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	purchasePrefix = "PUR"
	salePrefix     = "SAL"
)

// InvoiceGenerator produces human readable invoice numbers.
type InvoiceGenerator func(prefix string, at time.Time) string

// DefaultInvoiceNumber formats PREFIX-YYYYMMDD-NNNN with a random four digit suffix.
func DefaultInvoiceNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, at.UTC().Format("20060102"), 1000+rand.IntN(9000))
}
