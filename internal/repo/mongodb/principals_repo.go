package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type principalDoc struct {
	ID                      string     `bson:"_id"`
	Username                string     `bson:"username"`
	Email                   string     `bson:"email"`
	PasswordHash            string     `bson:"password"`
	PhoneNumber             string     `bson:"phoneNumber,omitempty"`
	Roles                   []string   `bson:"roles"`
	IsVerified              bool       `bson:"isVerified"`
	VerificationCode        *string    `bson:"verificationCode"`
	VerificationCodeExpires *time.Time `bson:"verificationCodeExpires"`
	ResetPasswordToken      *string    `bson:"resetPasswordToken,omitempty"`
	ResetPasswordExpires    *time.Time `bson:"resetPasswordExpires,omitempty"`
	PushToken               *string    `bson:"fcmToken,omitempty"`
	CreatedAt               time.Time  `bson:"createdAt"`
	UpdatedAt               time.Time  `bson:"updatedAt"`
}

func toPrincipalDoc(p principal.Principal) principalDoc {
	return principalDoc{
		ID:                      p.ID,
		Username:                p.Username,
		Email:                   p.Email,
		PasswordHash:            p.PasswordHash,
		PhoneNumber:             p.PhoneNumber,
		Roles:                   p.Roles,
		IsVerified:              p.IsVerified,
		VerificationCode:        p.VerificationCode,
		VerificationCodeExpires: p.VerificationCodeExpires,
		ResetPasswordToken:      p.ResetPasswordToken,
		ResetPasswordExpires:    p.ResetPasswordExpires,
		PushToken:               p.PushToken,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
	}
}

func (d principalDoc) toPrincipal(kind principal.Kind) principal.Principal {
	return principal.Principal{
		ID:                      d.ID,
		Kind:                    kind,
		Username:                d.Username,
		Email:                   d.Email,
		PasswordHash:            d.PasswordHash,
		PhoneNumber:             d.PhoneNumber,
		Roles:                   d.Roles,
		IsVerified:              d.IsVerified,
		VerificationCode:        d.VerificationCode,
		VerificationCodeExpires: utcPtr(d.VerificationCodeExpires),
		ResetPasswordToken:      d.ResetPasswordToken,
		ResetPasswordExpires:    utcPtr(d.ResetPasswordExpires),
		PushToken:               d.PushToken,
		CreatedAt:               d.CreatedAt.UTC(),
		UpdatedAt:               d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// PrincipalsRepo keeps riders in "users" and drivers in "drivers".
type PrincipalsRepo struct {
	col  *mongo.Collection
	prom *observability.Prom
	kind principal.Kind
}

func NewPrincipalsRepo(db *mongo.Database, prom *observability.Prom, kind principal.Kind) *PrincipalsRepo {
	name := ridersCollection
	if kind == principal.KindDriver {
		name = driversCollection
	}
	return &PrincipalsRepo{col: db.Collection(name), prom: prom, kind: kind}
}

func (r *PrincipalsRepo) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	return observe(ctx, r.prom, r.col.Name()+"."+op, fn)
}

func (r *PrincipalsRepo) Create(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := r.observe(ctx, "create", func(ctx context.Context) error {
		_, err := r.col.InsertOne(ctx, toPrincipalDoc(p))
		return err
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return principal.Principal{}, principal.ErrDuplicate
		}
		return principal.Principal{}, err
	}
	return p, nil
}

func (r *PrincipalsRepo) findOne(ctx context.Context, op string, filter bson.M, missing error) (principal.Principal, error) {
	var doc principalDoc
	err := r.observe(ctx, op, func(ctx context.Context) error {
		return r.col.FindOne(ctx, filter).Decode(&doc)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return principal.Principal{}, missing
		}
		return principal.Principal{}, err
	}
	return doc.toPrincipal(r.kind), nil
}

func (r *PrincipalsRepo) GetByID(ctx context.Context, id string) (principal.Principal, error) {
	return r.findOne(ctx, "get_by_id", bson.M{"_id": id}, principal.ErrNotFound)
}

func (r *PrincipalsRepo) GetByEmail(ctx context.Context, email string) (principal.Principal, error) {
	return r.findOne(ctx, "get_by_email", bson.M{"email": email}, principal.ErrNotFound)
}

func (r *PrincipalsRepo) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (principal.Principal, error) {
	return r.findOne(ctx, "get_by_reset_token", bson.M{
		"resetPasswordToken":   tokenHash,
		"resetPasswordExpires": bson.M{"$gt": now},
	}, principal.ErrResetNotFound)
}

// update applies a conditional update on one id. When the condition fails
// on an existing document it returns conflict.
func (r *PrincipalsRepo) update(ctx context.Context, op string, id string, cond bson.M, set bson.M, conflict error) error {
	filter := bson.M{"_id": id}
	for k, v := range cond {
		filter[k] = v
	}

	var res *mongo.UpdateResult
	err := r.observe(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = r.col.UpdateOne(ctx, filter, set)
		return err
	})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	var n int64
	err = r.observe(ctx, op+".exists", func(ctx context.Context) error {
		var err error
		n, err = r.col.CountDocuments(ctx, bson.M{"_id": id})
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 || conflict == nil {
		return principal.ErrNotFound
	}
	return conflict
}

func (r *PrincipalsRepo) UpdateVerification(ctx context.Context, id, code string, expires, now time.Time) error {
	return r.update(ctx, "update_verification", id, bson.M{"isVerified": false}, bson.M{"$set": bson.M{
		"verificationCode":        code,
		"verificationCodeExpires": expires,
		"updatedAt":               now,
	}}, principal.ErrAlreadyVerified)
}

func (r *PrincipalsRepo) MarkVerified(ctx context.Context, id string, now time.Time) error {
	return r.update(ctx, "mark_verified", id, bson.M{"isVerified": false}, bson.M{"$set": bson.M{
		"isVerified":              true,
		"verificationCode":        nil,
		"verificationCodeExpires": nil,
		"updatedAt":               now,
	}}, principal.ErrAlreadyVerified)
}

func (r *PrincipalsRepo) UpdatePushToken(ctx context.Context, id, token string, now time.Time) error {
	return r.update(ctx, "update_push_token", id, nil, bson.M{"$set": bson.M{
		"fcmToken":  token,
		"updatedAt": now,
	}}, nil)
}

func (r *PrincipalsRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	return r.update(ctx, "set_reset_token", id, nil, bson.M{"$set": bson.M{
		"resetPasswordToken":   tokenHash,
		"resetPasswordExpires": expires,
	}}, nil)
}

func (r *PrincipalsRepo) ClearResetToken(ctx context.Context, id, tokenHash string) error {
	return r.observe(ctx, "clear_reset_token", func(ctx context.Context) error {
		_, err := r.col.UpdateOne(ctx,
			bson.M{"_id": id, "resetPasswordToken": tokenHash},
			bson.M{"$unset": bson.M{"resetPasswordToken": "", "resetPasswordExpires": ""}},
		)
		return err
	})
}

func (r *PrincipalsRepo) ResetPassword(ctx context.Context, tokenHash string, now time.Time, passwordHash string) error {
	var res *mongo.UpdateResult
	err := r.observe(ctx, "reset_password", func(ctx context.Context) error {
		var err error
		res, err = r.col.UpdateOne(ctx,
			bson.M{
				"resetPasswordToken":   tokenHash,
				"resetPasswordExpires": bson.M{"$gt": now},
			},
			bson.M{
				"$set":   bson.M{"password": passwordHash, "updatedAt": now},
				"$unset": bson.M{"resetPasswordToken": "", "resetPasswordExpires": ""},
			},
		)
		return err
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return principal.ErrResetNotFound
	}
	return nil
}
