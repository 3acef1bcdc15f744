package trajet

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Trajet is a scheduled trip. Attributes holds every extra field the client
// sent; it is persisted as a document and flattened back into the JSON form.
type Trajet struct {
	ID             string
	PointRamasage  string
	PointLivraison string
	ModeTransport  string
	DateTraject    time.Time
	DriverID       *string
	Attributes     map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JSON keys of the fixed fields. Anything else belongs to Attributes.
const (
	FieldID             = "id"
	FieldPointRamasage  = "pointRamasage"
	FieldPointLivraison = "pointLivraison"
	FieldModeTransport  = "modetransport"
	FieldDateTraject    = "dateTraject"
	FieldDriver         = "driver"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
)

var reservedFields = map[string]struct{}{
	FieldID:             {},
	FieldPointRamasage:  {},
	FieldPointLivraison: {},
	FieldModeTransport:  {},
	FieldDateTraject:    {},
	FieldDriver:         {},
	FieldCreatedAt:      {},
	FieldUpdatedAt:      {},
	"_id":               {},
}

func IsReserved(field string) bool {
	_, ok := reservedFields[field]
	return ok
}

func (t Trajet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Attributes)+8)

	for k, v := range t.Attributes {
		if IsReserved(k) {
			continue
		}
		out[k] = v
	}

	out[FieldID] = t.ID
	out[FieldPointRamasage] = t.PointRamasage
	out[FieldPointLivraison] = t.PointLivraison
	out[FieldModeTransport] = t.ModeTransport
	out[FieldDateTraject] = t.DateTraject
	if t.DriverID != nil {
		out[FieldDriver] = *t.DriverID
	}
	out[FieldCreatedAt] = t.CreatedAt
	out[FieldUpdatedAt] = t.UpdatedAt

	return json.Marshal(out)
}

func (t *Trajet) UnmarshalJSON(b []byte) error {
	var fixed struct {
		ID             string    `json:"id"`
		PointRamasage  string    `json:"pointRamasage"`
		PointLivraison string    `json:"pointLivraison"`
		ModeTransport  string    `json:"modetransport"`
		DateTraject    time.Time `json:"dateTraject"`
		DriverID       *string   `json:"driver"`
		CreatedAt      time.Time `json:"createdAt"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &fixed); err != nil {
		return err
	}

	attrs, err := extraAttributes(b)
	if err != nil {
		return err
	}

	*t = Trajet{
		ID:             fixed.ID,
		PointRamasage:  fixed.PointRamasage,
		PointLivraison: fixed.PointLivraison,
		ModeTransport:  fixed.ModeTransport,
		DateTraject:    fixed.DateTraject,
		DriverID:       fixed.DriverID,
		Attributes:     attrs,
		CreatedAt:      fixed.CreatedAt,
		UpdatedAt:      fixed.UpdatedAt,
	}
	return nil
}

// with pointers if optional, it will be nil
type ListFilter struct {
	PickupIn         []string
	DeliveryIn       []string
	ModeTransport    *string
	DriverID         *string
	DateFrom         *time.Time
	DateTo           *time.Time
	PickupContains   *string
	DeliveryContains *string

	// keyset position: rows strictly after (AfterDate, AfterID)
	AfterDate *time.Time
	AfterID   *string

	// Limit <= 0 means no limit.
	Limit int
}

// Matches reports whether t satisfies every set condition of f except the
// keyset position and limit.
func (f ListFilter) Matches(t Trajet) bool {
	if len(f.PickupIn) > 0 && !containsString(f.PickupIn, t.PointRamasage) {
		return false
	}
	if len(f.DeliveryIn) > 0 && !containsString(f.DeliveryIn, t.PointLivraison) {
		return false
	}
	if f.ModeTransport != nil && t.ModeTransport != *f.ModeTransport {
		return false
	}
	if f.DriverID != nil && (t.DriverID == nil || *t.DriverID != *f.DriverID) {
		return false
	}
	if f.DateFrom != nil && t.DateTraject.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && t.DateTraject.After(*f.DateTo) {
		return false
	}
	if f.PickupContains != nil && !containsFold(t.PointRamasage, *f.PickupContains) {
		return false
	}
	if f.DeliveryContains != nil && !containsFold(t.PointLivraison, *f.DeliveryContains) {
		return false
	}
	return true
}

// After reports whether t sorts strictly after the keyset position.
func (f ListFilter) After(t Trajet) bool {
	if f.AfterDate == nil || f.AfterID == nil {
		return true
	}
	if t.DateTraject.Equal(*f.AfterDate) {
		return t.ID > *f.AfterID
	}
	return t.DateTraject.After(*f.AfterDate)
}

// Less orders trajets by dateTraject then id.
func Less(a, b Trajet) bool {
	if a.DateTraject.Equal(b.DateTraject) {
		return a.ID < b.ID
	}
	return a.DateTraject.Before(b.DateTraject)
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

var (
	ErrNotFound = errors.New("trajet not found")
	ErrInvalid  = errors.New("invalid trajet payload")
)
