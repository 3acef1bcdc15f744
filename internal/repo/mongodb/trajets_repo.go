package mongodb

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/trajet"
	"github.com/geocoder89/trajethub/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TrajetsRepo stores each trajet as one flat document: the fixed fields sit
// next to the free-form attributes, as clients send them.
type TrajetsRepo struct {
	col  *mongo.Collection
	prom *observability.Prom
}

func NewTrajetsRepo(db *mongo.Database, prom *observability.Prom) *TrajetsRepo {
	return &TrajetsRepo{col: db.Collection(trajetsCollection), prom: prom}
}

func (r *TrajetsRepo) Ping(ctx context.Context) error {
	return r.col.Database().Client().Ping(ctx, nil)
}

func toTrajetDoc(t trajet.Trajet) bson.M {
	doc := bson.M{}
	for k, v := range t.Attributes {
		if trajet.IsReserved(k) {
			continue
		}
		doc[k] = v
	}

	doc["_id"] = t.ID
	doc[trajet.FieldPointRamasage] = t.PointRamasage
	doc[trajet.FieldPointLivraison] = t.PointLivraison
	doc[trajet.FieldModeTransport] = t.ModeTransport
	doc[trajet.FieldDateTraject] = t.DateTraject
	if t.DriverID != nil {
		doc[trajet.FieldDriver] = *t.DriverID
	}
	doc[trajet.FieldCreatedAt] = t.CreatedAt
	doc[trajet.FieldUpdatedAt] = t.UpdatedAt
	return doc
}

func fromTrajetDoc(doc bson.M) trajet.Trajet {
	t := trajet.Trajet{Attributes: map[string]any{}}

	for k, v := range doc {
		switch k {
		case "_id":
			t.ID = stringOf(v)
		case trajet.FieldID:
		case trajet.FieldPointRamasage:
			t.PointRamasage = stringOf(v)
		case trajet.FieldPointLivraison:
			t.PointLivraison = stringOf(v)
		case trajet.FieldModeTransport:
			t.ModeTransport = stringOf(v)
		case trajet.FieldDateTraject:
			t.DateTraject = timeOf(v)
		case trajet.FieldDriver:
			if s := stringOf(v); s != "" {
				t.DriverID = &s
			}
		case trajet.FieldCreatedAt:
			t.CreatedAt = timeOf(v)
		case trajet.FieldUpdatedAt:
			t.UpdatedAt = timeOf(v)
		default:
			t.Attributes[k] = plain(v)
		}
	}
	return t
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case primitive.ObjectID:
		return x.Hex()
	default:
		return ""
	}
}

func timeOf(v any) time.Time {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC()
	default:
		return time.Time{}
	}
}

// plain converts driver-specific values into JSON friendly ones.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plain(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = plain(e)
		}
		return m
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	default:
		return v
	}
}

func (r *TrajetsRepo) Create(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error) {
	err := observe(ctx, r.prom, "trajets.create", func(ctx context.Context) error {
		_, err := r.col.InsertOne(ctx, toTrajetDoc(t))
		return err
	})
	if err != nil {
		return trajet.Trajet{}, err
	}
	return t, nil
}

func (r *TrajetsRepo) GetByID(ctx context.Context, id string) (trajet.Trajet, error) {
	var doc bson.M
	err := observe(ctx, r.prom, "trajets.get_by_id", func(ctx context.Context) error {
		return r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return trajet.Trajet{}, trajet.ErrNotFound
		}
		return trajet.Trajet{}, err
	}
	return fromTrajetDoc(doc), nil
}

// Update replaces the whole document, which also drops attributes the
// caller removed.
func (r *TrajetsRepo) Update(ctx context.Context, t trajet.Trajet) (trajet.Trajet, error) {
	opts := options.FindOneAndReplace().SetReturnDocument(options.After)

	var doc bson.M
	err := observe(ctx, r.prom, "trajets.update", func(ctx context.Context) error {
		return r.col.FindOneAndReplace(ctx, bson.M{"_id": t.ID}, toTrajetDoc(t), opts).Decode(&doc)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return trajet.Trajet{}, trajet.ErrNotFound
		}
		return trajet.Trajet{}, err
	}
	return fromTrajetDoc(doc), nil
}

func (r *TrajetsRepo) Delete(ctx context.Context, id string) error {
	var res *mongo.DeleteResult
	err := observe(ctx, r.prom, "trajets.delete", func(ctx context.Context) error {
		var err error
		res, err = r.col.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return trajet.ErrNotFound
	}
	return nil
}

func buildTrajetFilter(f trajet.ListFilter) bson.M {
	and := bson.A{}

	if len(f.PickupIn) > 0 {
		and = append(and, bson.M{trajet.FieldPointRamasage: bson.M{"$in": f.PickupIn}})
	}
	if len(f.DeliveryIn) > 0 {
		and = append(and, bson.M{trajet.FieldPointLivraison: bson.M{"$in": f.DeliveryIn}})
	}
	if f.ModeTransport != nil {
		and = append(and, bson.M{trajet.FieldModeTransport: *f.ModeTransport})
	}
	if f.DriverID != nil {
		and = append(and, bson.M{trajet.FieldDriver: *f.DriverID})
	}

	dateRange := bson.M{}
	if f.DateFrom != nil {
		dateRange["$gte"] = *f.DateFrom
	}
	if f.DateTo != nil {
		dateRange["$lte"] = *f.DateTo
	}
	if len(dateRange) > 0 {
		and = append(and, bson.M{trajet.FieldDateTraject: dateRange})
	}

	if f.PickupContains != nil {
		and = append(and, bson.M{trajet.FieldPointRamasage: primitive.Regex{
			Pattern: regexp.QuoteMeta(*f.PickupContains), Options: "i",
		}})
	}
	if f.DeliveryContains != nil {
		and = append(and, bson.M{trajet.FieldPointLivraison: primitive.Regex{
			Pattern: regexp.QuoteMeta(*f.DeliveryContains), Options: "i",
		}})
	}

	if f.AfterDate != nil && f.AfterID != nil {
		and = append(and, bson.M{"$or": bson.A{
			bson.M{trajet.FieldDateTraject: bson.M{"$gt": *f.AfterDate}},
			bson.M{trajet.FieldDateTraject: *f.AfterDate, "_id": bson.M{"$gt": *f.AfterID}},
		}})
	}

	if len(and) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": and}
}

func (r *TrajetsRepo) Find(ctx context.Context, f trajet.ListFilter) ([]trajet.Trajet, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: trajet.FieldDateTraject, Value: 1},
		{Key: "_id", Value: 1},
	})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	out := make([]trajet.Trajet, 0)
	err := observe(ctx, r.prom, "trajets.find", func(ctx context.Context) error {
		cur, err := r.col.Find(ctx, buildTrajetFilter(f), opts)
		if err != nil {
			return err
		}
		defer cur.Close(ctx)

		var docs []bson.M
		if err := cur.All(ctx, &docs); err != nil {
			return err
		}
		for _, doc := range docs {
			out = append(out, fromTrajetDoc(doc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
