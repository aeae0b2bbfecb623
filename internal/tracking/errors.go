package tracking

import "fmt"

// Error taxonomy surfaced by the tracking facade. The HTTP layer maps
// ValidationError to 400 and everything else to a generic 500 — missing
// offers and click records are deliberately not 404s, so untrusted
// conversion callers cannot probe which identifiers exist.

// ValidationError reports a structurally incomplete request. Detected
// before any store access.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// TemplatingError reports a malformed URL template. Click recording
// degrades to the best-effort rendering instead of failing.
type TemplatingError struct {
	OfferID string
	Err     error
}

func (e *TemplatingError) Error() string {
	return fmt.Sprintf("template for offer %s: %v", e.OfferID, e.Err)
}

func (e *TemplatingError) Unwrap() error { return e.Err }
