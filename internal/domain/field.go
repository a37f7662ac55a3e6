package domain

import (
	"time"

	"github.com/google/uuid"
)

// FieldType represents the kind of input a field captures
type FieldType string

const (
	FieldTypeSignature   FieldType = "SIGNATURE"
	FieldTypeInitialMark FieldType = "INITIAL_MARK"
	FieldTypeText        FieldType = "TEXT"
	FieldTypeDate        FieldType = "DATE"
	FieldTypeCheckbox    FieldType = "CHECKBOX"
)

// DateLayout is the wire format for date field values
const DateLayout = "2006-01-02"

// FieldDefinition is a declared placeholder on a page. Geometry is expressed
// as resolution-independent fractions of the page dimensions, so composition
// resolves it against the actual page size at render time.
type FieldDefinition struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Type        FieldType `json:"type"`
	Page        int       `json:"page"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Required    bool      `json:"required"`
	RecipientID string    `json:"recipient_id"`
}

// NewFieldDefinition creates a field definition for a draft document
func NewFieldDefinition(documentID string, ftype FieldType, page int, x, y, w, h float64, required bool, recipientID string) *FieldDefinition {
	return &FieldDefinition{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Type:        ftype,
		Page:        page,
		X:           x,
		Y:           y,
		Width:       w,
		Height:      h,
		Required:    required,
		RecipientID: recipientID,
	}
}

// ValidGeometry reports whether all geometry fractions lie in [0,1] and the
// box does not extend past the page edge
func (f *FieldDefinition) ValidGeometry() bool {
	for _, v := range []float64{f.X, f.Y, f.Width, f.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return f.Width > 0 && f.Height > 0 && f.X+f.Width <= 1 && f.Y+f.Height <= 1
}

// ValidType reports whether the field type is one of the known kinds
func (f *FieldDefinition) ValidType() bool {
	switch f.Type {
	case FieldTypeSignature, FieldTypeInitialMark, FieldTypeText, FieldTypeDate, FieldTypeCheckbox:
		return true
	}
	return false
}

// FieldValue is the tagged-union payload a recipient supplies for a field.
// Kind selects which member carries the value; Validate enforces the match
// against the owning definition's type.
type FieldValue struct {
	Kind     FieldType `json:"kind"`
	ImageRef string    `json:"image_ref,omitempty"`
	Text     string    `json:"text,omitempty"`
	Date     string    `json:"date,omitempty"`
	Checked  bool      `json:"checked,omitempty"`
}

// Validate checks the value against a field definition's type
func (v FieldValue) Validate(ftype FieldType) error {
	if v.Kind != ftype {
		return ErrInvalidFieldValue
	}
	switch ftype {
	case FieldTypeSignature, FieldTypeInitialMark:
		if v.ImageRef == "" {
			return ErrInvalidFieldValue
		}
	case FieldTypeText:
		if v.Text == "" {
			return ErrInvalidFieldValue
		}
	case FieldTypeDate:
		if _, err := time.Parse(DateLayout, v.Date); err != nil {
			return ErrInvalidFieldValue
		}
	case FieldTypeCheckbox:
		// presence of the assignment is the value; false is legitimate
	default:
		return ErrInvalidFieldValue
	}
	return nil
}

// Empty reports whether the value carries no payload for its kind
func (v FieldValue) Empty() bool {
	switch v.Kind {
	case FieldTypeSignature, FieldTypeInitialMark:
		return v.ImageRef == ""
	case FieldTypeText:
		return v.Text == ""
	case FieldTypeDate:
		return v.Date == ""
	case FieldTypeCheckbox:
		return false
	}
	return true
}

// FieldAssignment is the value a recipient supplied for a field definition
type FieldAssignment struct {
	FieldID     string     `json:"field_id"`
	RecipientID string     `json:"recipient_id"`
	Value       FieldValue `json:"value"`
	FilledAt    time.Time  `json:"filled_at"`
}
