package trajet

import (
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateRequest, now time.Time) Trajet {
	attrs := req.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	return Trajet{
		ID:             uuid.NewString(),
		PointRamasage:  req.PointRamasage,
		PointLivraison: req.PointLivraison,
		ModeTransport:  req.ModeTransport,
		DateTraject:    req.DateTraject.UTC(),
		DriverID:       req.DriverID,
		Attributes:     attrs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
