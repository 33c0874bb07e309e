package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// NormalizeEmail trims and case-folds an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// NormalizeCode folds a linking code so codes differing only in case name
// the same counterparty.
func NormalizeCode(code string) string {
	return cases.Fold().String(strings.TrimSpace(code))
}

// PhantomEmail is the address given to the placeholder user that owner
// creates for an unregistered counterparty identified by code.
func PhantomEmail(owner uuid.UUID, code string) string {
	return NormalizeEmail(fmt.Sprintf("%s_%s@dhub.com", owner, code))
}
