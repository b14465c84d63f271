package syncd

import (
	"strings"

	"github.com/google/uuid"
)

// Payload validation happens once, at queue admission, so that nothing deeper
// in the engine needs schema knowledge. Each entity type has its own required
// field set; everything not listed here passes through untouched.

// getString safely extracts a string value from a payload map.
func getString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// getNumber extracts a numeric value. JSON decoding yields float64; clients
// proxying through typed layers may hand us int or int64.
func getNumber(m map[string]any, k string) (float64, bool) {
	switch v := m[k].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// EntityID extracts the target entity id from a payload, if present.
func EntityID(payload map[string]any) (string, bool) {
	s, ok := getString(payload, "entityId")
	if !ok || s == "" {
		return "", false
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return s, true
}

// ValidateItem checks a SyncItem's shape at the admission boundary. It returns
// a ValidationError for anything malformed; per-item errors never abort the
// enclosing batch.
func ValidateItem(item *SyncItem) error {
	if item.LocalID == "" {
		return validationf("missing localId")
	}
	if !item.EntityType.Valid() {
		return validationf("unknown entityType %q", string(item.EntityType))
	}
	if !item.Action.Valid() {
		return validationf("unknown action %q", string(item.Action))
	}
	if item.BaseVersion < 0 {
		return validationf("negative baseVersion")
	}
	if item.Action == ActionDelete {
		// Deletes carry no entity fields, only the target id.
		return nil
	}
	if item.Payload == nil {
		return validationf("missing payload")
	}
	return validatePayload(item.EntityType, item.Payload)
}

// ValidatePayload checks a payload against the field set of its entity type.
// Used both at push admission and for caller-supplied merge payloads.
func ValidatePayload(et EntityType, payload map[string]any) error {
	if !et.Valid() {
		return validationf("unknown entityType %q", string(et))
	}
	if payload == nil {
		return validationf("missing payload")
	}
	return validatePayload(et, payload)
}

func validatePayload(et EntityType, payload map[string]any) error {
	switch et {
	case EntityInvoice:
		return validateInvoice(payload)
	case EntityExpense:
		return validateExpense(payload)
	case EntityCustomer:
		return validateCustomer(payload)
	case EntityVendor:
		return validateVendor(payload)
	}
	return validationf("unknown entityType %q", string(et))
}

func validateInvoice(p map[string]any) error {
	if s, ok := getString(p, "customerId"); !ok || s == "" {
		return validationf("invoice: missing customerId")
	}
	total, ok := getNumber(p, "totalCents")
	if !ok {
		return validationf("invoice: missing totalCents")
	}
	if total < 0 {
		return validationf("invoice: negative totalCents")
	}
	if err := validateCurrency(p); err != nil {
		return err
	}
	if v, present := p["lines"]; present {
		if _, ok := v.([]any); !ok {
			return validationf("invoice: lines must be an array")
		}
	}
	return nil
}

func validateExpense(p map[string]any) error {
	if s, ok := getString(p, "vendorId"); !ok || s == "" {
		return validationf("expense: missing vendorId")
	}
	amount, ok := getNumber(p, "amountCents")
	if !ok {
		return validationf("expense: missing amountCents")
	}
	if amount <= 0 {
		return validationf("expense: amountCents must be positive")
	}
	return validateCurrency(p)
}

func validateCustomer(p map[string]any) error {
	if s, ok := getString(p, "name"); !ok || strings.TrimSpace(s) == "" {
		return validationf("customer: missing name")
	}
	if v, present := p["email"]; present {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "@") {
			return validationf("customer: invalid email")
		}
	}
	return nil
}

func validateVendor(p map[string]any) error {
	if s, ok := getString(p, "name"); !ok || strings.TrimSpace(s) == "" {
		return validationf("vendor: missing name")
	}
	return nil
}

func validateCurrency(p map[string]any) error {
	v, present := p["currency"]
	if !present {
		return nil
	}
	s, ok := v.(string)
	if !ok || len(s) != 3 || s != strings.ToUpper(s) {
		return validationf("invalid currency code")
	}
	return nil
}
