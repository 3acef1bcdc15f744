package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/trajethub/internal/domain/trajet"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TrajetsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTrajetsRepo(pool *pgxpool.Pool, prom *observability.Prom) *TrajetsRepo {
	return &TrajetsRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *TrajetsRepo) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	return observability.ObserveStore(ctx, repo.prom, observability.StorePostgres, op, fn)
}

func (repo *TrajetsRepo) Ping(ctx context.Context) error {
	return repo.pool.Ping(ctx)
}

const trajetColumns = `id, point_ramasage, point_livraison, modetransport, date_traject,
	driver_id, attributes, created_at, updated_at`

func scanTrajet(row pgx.Row) (trajet.Trajet, error) {
	var t trajet.Trajet
	err := row.Scan(
		&t.ID,
		&t.PointRamasage,
		&t.PointLivraison,
		&t.ModeTransport,
		&t.DateTraject,
		&t.DriverID,
		&t.Attributes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func attributesOrEmpty(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

func (repo *TrajetsRepo) Create(ctx context.Context, t trajet.Trajet) (out trajet.Trajet, err error) {
	err = repo.observe(ctx, "trajets.create", func(ctx context.Context) error {
		row := repo.pool.QueryRow(ctx,
			`INSERT INTO trajets (`+trajetColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING `+trajetColumns,
			t.ID, t.PointRamasage, t.PointLivraison, t.ModeTransport, t.DateTraject,
			t.DriverID, attributesOrEmpty(t.Attributes), t.CreatedAt, t.UpdatedAt,
		)
		var scanErr error
		out, scanErr = scanTrajet(row)
		return scanErr
	})
	return out, err
}

func (repo *TrajetsRepo) GetByID(ctx context.Context, id string) (out trajet.Trajet, err error) {
	err = repo.observe(ctx, "trajets.get_by_id", func(ctx context.Context) error {
		var scanErr error
		out, scanErr = scanTrajet(repo.pool.QueryRow(ctx, `SELECT `+trajetColumns+` FROM trajets WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trajet.Trajet{}, trajet.ErrNotFound
		}
		return trajet.Trajet{}, err
	}
	return out, nil
}

func (repo *TrajetsRepo) Update(ctx context.Context, t trajet.Trajet) (out trajet.Trajet, err error) {
	err = repo.observe(ctx, "trajets.update", func(ctx context.Context) error {
		row := repo.pool.QueryRow(ctx,
			`UPDATE trajets
				SET point_ramasage = $2,
					point_livraison = $3,
					modetransport = $4,
					date_traject = $5,
					driver_id = $6,
					attributes = $7,
					updated_at = $8
			WHERE id = $1
			RETURNING `+trajetColumns,
			t.ID, t.PointRamasage, t.PointLivraison, t.ModeTransport, t.DateTraject,
			t.DriverID, attributesOrEmpty(t.Attributes), t.UpdatedAt,
		)
		var scanErr error
		out, scanErr = scanTrajet(row)
		return scanErr
	})

	if err != nil {
		// if there are no rows matching the id
		if errors.Is(err, pgx.ErrNoRows) {
			return trajet.Trajet{}, trajet.ErrNotFound
		}
		return trajet.Trajet{}, err
	}
	return out, nil
}

func (repo *TrajetsRepo) Delete(ctx context.Context, id string) error {
	var affected int64
	err := repo.observe(ctx, "trajets.delete", func(ctx context.Context) error {
		tag, err := repo.pool.Exec(ctx, `DELETE FROM trajets WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return err
	})

	if err != nil {
		return err
	}

	// if no rows were deleted as a result return a not found error
	if affected == 0 {
		return trajet.ErrNotFound
	}
	return nil
}

func (repo *TrajetsRepo) Find(ctx context.Context, f trajet.ListFilter) ([]trajet.Trajet, error) {
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.PickupIn) > 0 {
		conds = append(conds, "point_ramasage = ANY("+arg(f.PickupIn)+")")
	}
	if len(f.DeliveryIn) > 0 {
		conds = append(conds, "point_livraison = ANY("+arg(f.DeliveryIn)+")")
	}
	if f.ModeTransport != nil {
		conds = append(conds, "modetransport = "+arg(*f.ModeTransport))
	}
	if f.DriverID != nil {
		conds = append(conds, "driver_id = "+arg(*f.DriverID))
	}
	if f.DateFrom != nil {
		conds = append(conds, "date_traject >= "+arg(*f.DateFrom))
	}
	if f.DateTo != nil {
		conds = append(conds, "date_traject <= "+arg(*f.DateTo))
	}
	if f.PickupContains != nil {
		conds = append(conds, "point_ramasage ILIKE "+arg("%"+escapeLike(*f.PickupContains)+"%"))
	}
	if f.DeliveryContains != nil {
		conds = append(conds, "point_livraison ILIKE "+arg("%"+escapeLike(*f.DeliveryContains)+"%"))
	}
	if f.AfterDate != nil && f.AfterID != nil {
		conds = append(conds, "(date_traject, id) > ("+arg(*f.AfterDate)+", "+arg(*f.AfterID)+")")
	}

	query := `SELECT ` + trajetColumns + ` FROM trajets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// stable ordering for pagination
	query += " ORDER BY date_traject ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	out := make([]trajet.Trajet, 0)
	err := repo.observe(ctx, "trajets.find", func(ctx context.Context) error {
		rows, err := repo.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTrajet(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
