package entity

import (
	"strings"
	"time"
)

// Student is the profile owned 1:1 by an Account.
// NationalID (CURP) and TaxID (RFC) are always kept upper-cased.
type Student struct {
	ID         int64
	AccountID  int64
	Account    *Account
	Enrollment string
	NationalID string
	TaxID      string
	BirthDate  time.Time
	Age        int
	Phone      string
	Occupation string
	PhotoURL   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizeIDs upper-cases the official identifiers.
func (s *Student) NormalizeIDs() {
	s.NationalID = strings.ToUpper(s.NationalID)
	s.TaxID = strings.ToUpper(s.TaxID)
}
