package trajet

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type CreateRequest struct {
	PointRamasage  string         `json:"pointRamasage" validate:"required,max=200"`
	PointLivraison string         `json:"pointLivraison" validate:"required,max=200"`
	ModeTransport  string         `json:"modetransport" validate:"required,max=60"`
	DateTraject    time.Time      `json:"dateTraject" validate:"required"`
	DriverID       *string        `json:"driver" validate:"omitempty,min=1"`
	Attributes     map[string]any `json:"-"`
}

// Patch is a partial update. Nil fields are left untouched and Attributes
// are merged key by key onto the stored document.
type Patch struct {
	PointRamasage  *string        `json:"pointRamasage" validate:"omitempty,min=1,max=200"`
	PointLivraison *string        `json:"pointLivraison" validate:"omitempty,min=1,max=200"`
	ModeTransport  *string        `json:"modetransport" validate:"omitempty,min=1,max=60"`
	DateTraject    *time.Time     `json:"dateTraject"`
	DriverID       *string        `json:"driver" validate:"omitempty,min=1"`
	Attributes     map[string]any `json:"-"`
}

func (p Patch) IsEmpty() bool {
	return p.PointRamasage == nil && p.PointLivraison == nil && p.ModeTransport == nil &&
		p.DateTraject == nil && p.DriverID == nil && len(p.Attributes) == 0
}

// DecodeCreate parses a create payload: known fields are typed and validated,
// the rest is kept as opaque attributes.
func DecodeCreate(body []byte) (CreateRequest, error) {
	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return CreateRequest{}, invalid(err)
	}

	if err := validate.Struct(req); err != nil {
		return CreateRequest{}, invalid(err)
	}

	attrs, err := extraAttributes(body)
	if err != nil {
		return CreateRequest{}, invalid(err)
	}
	req.Attributes = attrs

	return req, nil
}

func DecodePatch(body []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(body, &p); err != nil {
		return Patch{}, invalid(err)
	}

	if err := validate.Struct(p); err != nil {
		return Patch{}, invalid(err)
	}

	attrs, err := extraAttributes(body)
	if err != nil {
		return Patch{}, invalid(err)
	}
	p.Attributes = attrs

	return p, nil
}

// Apply merges p onto t and returns the result. t.Attributes is not modified.
func (p Patch) Apply(t Trajet, now time.Time) Trajet {
	if p.PointRamasage != nil {
		t.PointRamasage = *p.PointRamasage
	}
	if p.PointLivraison != nil {
		t.PointLivraison = *p.PointLivraison
	}
	if p.ModeTransport != nil {
		t.ModeTransport = *p.ModeTransport
	}
	if p.DateTraject != nil {
		t.DateTraject = p.DateTraject.UTC()
	}
	if p.DriverID != nil {
		id := *p.DriverID
		t.DriverID = &id
	}
	if len(p.Attributes) > 0 {
		merged := make(map[string]any, len(t.Attributes)+len(p.Attributes))
		for k, v := range t.Attributes {
			merged[k] = v
		}
		for k, v := range p.Attributes {
			merged[k] = v
		}
		t.Attributes = merged
	}
	t.UpdatedAt = now
	return t
}

func extraAttributes(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	attrs := make(map[string]any)
	for k, v := range raw {
		if IsReserved(k) {
			continue
		}
		attrs[k] = v
	}
	return attrs, nil
}

// invalidPayload keeps the decode or validation cause reachable through
// errors.As while still matching ErrInvalid.
type invalidPayload struct {
	cause error
}

func (e *invalidPayload) Error() string {
	return ErrInvalid.Error() + ": " + describe(e.cause)
}

func (e *invalidPayload) Unwrap() []error {
	return []error{ErrInvalid, e.cause}
}

func invalid(err error) error {
	return &invalidPayload{cause: err}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
