package trajets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/cache"
	"github.com/geocoder89/trajethub/internal/domain/trajet"
	"github.com/geocoder89/trajethub/internal/utils"
)

const (
	DefaultRangeDays = 5
	DefaultPageSize  = 20
	MaxPageSize      = 100
)

type Store interface {
	Create(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error)
	GetByID(ctx context.Context, id string) (trajet.Trajet, error)
	// Update replaces the stored document with the same ID.
	Update(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error)
	Delete(ctx context.Context, id string) error
	// Find returns matches ordered by dateTraject then id.
	Find(ctx context.Context, f trajet.ListFilter) ([]trajet.Trajet, error)
}

type Deps struct {
	Store Store
	Cache cache.Store
	Log   *slog.Logger
	Now   func() time.Time
	// Location decides where "today" starts for the upcoming view.
	Location *time.Location
	// OnCacheLookup, when set, is told about every search cache hit or miss.
	OnCacheLookup func(hit bool)
}

type Service struct {
	store    Store
	cache    cache.Store
	log      *slog.Logger
	now      func() time.Time
	loc      *time.Location
	onLookup func(hit bool)
}

func NewService(deps Deps) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	return &Service{
		store:    deps.Store,
		cache:    deps.Cache,
		log:      deps.Log,
		now:      deps.Now,
		loc:      deps.Location,
		onLookup: deps.OnCacheLookup,
	}
}

type SearchQuery struct {
	From  string
	To    string
	Date  string
	Type  string
	Range string
}

// Search returns the trajets going From -> To by Type whose date falls within
// Range calendar days either side of Date, earliest first.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]trajet.Trajet, error) {
	from := strings.TrimSpace(q.From)
	to := strings.TrimSpace(q.To)
	mode := strings.TrimSpace(q.Type)
	rawDate := strings.TrimSpace(q.Date)

	if from == "" || to == "" || rawDate == "" || mode == "" {
		return nil, apperr.Validation("from, to, date and type are required")
	}

	date, err := ParseSearchDate(rawDate)
	if err != nil {
		return nil, apperr.Validation("date is not a valid date")
	}

	rangeDays, err := parseRange(q.Range)
	if err != nil {
		return nil, err
	}

	key := utils.BuildTrajetSearchCacheKey(from, to, mode, date, rangeDays)
	cached, gen, ok := s.cachedSearch(ctx, key)
	if ok {
		return cached, nil
	}

	windowStart := date.AddDate(0, 0, -rangeDays)
	windowEnd := date.AddDate(0, 0, rangeDays)

	out, err := s.store.Find(ctx, trajet.ListFilter{
		PickupIn:      []string{from},
		DeliveryIn:    []string{to},
		ModeTransport: &mode,
		DateFrom:      &windowStart,
		DateTo:        &windowEnd,
	})
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if out == nil {
		out = []trajet.Trajet{}
	}

	if b, err := json.Marshal(out); err == nil {
		s.cache.Set(ctx, key, gen, b)
	}

	return out, nil
}

// cachedSearch also returns the cache generation, which the fill after a miss
// must be stored under.
func (s *Service) cachedSearch(ctx context.Context, key string) ([]trajet.Trajet, int64, bool) {
	b, gen, ok := s.cache.Get(ctx, key)
	if ok {
		var out []trajet.Trajet
		if err := json.Unmarshal(b, &out); err == nil {
			s.observeLookup(true)
			return out, gen, true
		}
		s.log.WarnContext(ctx, "trajets.cache_decode_failed", "key", key)
	}
	s.observeLookup(false)
	return nil, gen, false
}

func (s *Service) observeLookup(hit bool) {
	if s.onLookup != nil {
		s.onLookup(hit)
	}
}

var searchDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseSearchDate accepts RFC 3339 timestamps and the zone-less forms browsers
// send. Zone-less values are read as UTC.
func ParseSearchDate(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range searchDateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseRange(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRangeDays, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("range must be a non-negative integer")
	}
	return n, nil
}

// ListUpcomingForDriver returns the driver's trajets from the start of today on.
func (s *Service) ListUpcomingForDriver(ctx context.Context, driverID string) ([]trajet.Trajet, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, apperr.Validation("driver id is required")
	}

	now := s.now().In(s.loc)
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	out, err := s.store.Find(ctx, trajet.ListFilter{
		DriverID: &driverID,
		DateFrom: &startOfToday,
	})
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if out == nil {
		out = []trajet.Trajet{}
	}
	return out, nil
}

type ListQuery struct {
	Limit    int
	Cursor   string
	Pickup   string
	Delivery string
}

type Page struct {
	Items      []trajet.Trajet `json:"items"`
	Limit      int             `json:"limit"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

func (s *Service) List(ctx context.Context, q ListQuery) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	f := trajet.ListFilter{Limit: limit + 1}

	if p := strings.TrimSpace(q.Pickup); p != "" {
		f.PickupContains = &p
	}
	if d := strings.TrimSpace(q.Delivery); d != "" {
		f.DeliveryContains = &d
	}

	if q.Cursor != "" {
		c, err := utils.DecodeTrajetCursor(q.Cursor)
		if err != nil {
			return Page{}, apperr.Validation("invalid cursor")
		}
		f.AfterDate = &c.DateTraject
		f.AfterID = &c.ID
	}

	items, err := s.store.Find(ctx, f)
	if err != nil {
		return Page{}, apperr.Persistence(err)
	}

	page := Page{Items: items, Limit: limit}
	if page.Items == nil {
		page.Items = []trajet.Trajet{}
	}

	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = utils.EncodeTrajetCursor(last.DateTraject, last.ID)
	}

	return page, nil
}

// ListRecent returns every trajet, earliest date first.
func (s *Service) ListRecent(ctx context.Context) ([]trajet.Trajet, error) {
	out, err := s.store.Find(ctx, trajet.ListFilter{})
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if out == nil {
		out = []trajet.Trajet{}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (trajet.Trajet, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return trajet.Trajet{}, storeError(err)
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, req trajet.CreateRequest) (trajet.Trajet, error) {
	t := trajet.NewFromCreateRequest(req, s.now().UTC())

	created, err := s.store.Create(ctx, t)
	if err != nil {
		return trajet.Trajet{}, apperr.Persistence(err)
	}

	s.cache.Invalidate(ctx)
	s.log.InfoContext(ctx, "trajets.created", "trajet_id", created.ID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id string, patch trajet.Patch) (trajet.Trajet, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return trajet.Trajet{}, storeError(err)
	}

	if patch.IsEmpty() {
		return current, nil
	}

	updated, err := s.store.Update(ctx, patch.Apply(current, s.now().UTC()))
	if err != nil {
		return trajet.Trajet{}, storeError(err)
	}

	s.cache.Invalidate(ctx)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return storeError(err)
	}

	s.cache.Invalidate(ctx)
	s.log.InfoContext(ctx, "trajets.deleted", "trajet_id", id)
	return nil
}

func storeError(err error) error {
	if errors.Is(err, trajet.ErrNotFound) {
		return apperr.NotFound("trajet not found")
	}
	return apperr.Persistence(err)
}
