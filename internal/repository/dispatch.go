package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/ports/dispatchtx"
)

// DispatchRepo persists drivers, requests and completed trips.
type DispatchRepo struct {
	db *pgxpool.Pool
}

// NewDispatchRepo creates a new DispatchRepo.
func NewDispatchRepo(db *pgxpool.Pool) *DispatchRepo {
	return &DispatchRepo{db: db}
}

var _ dispatchtx.Runner = (*DispatchRepo)(nil)

// WithTx opens a transaction and executes fn within it.
func (r *DispatchRepo) WithTx(ctx context.Context, fn func(tx dispatchtx.Repository) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// откатываем в случае паники
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				panic(rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(&TxRepo{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %s)", rbErr, err.Error())
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TxRepo writes inside an open transaction.
type TxRepo struct {
	tx pgx.Tx
}

// SaveDriver upserts the full driver row.
func (r *TxRepo) SaveDriver(ctx context.Context, d domain.Driver) error {
	loc, err := marshalNullable(d.Location)
	if err != nil {
		return fmt.Errorf("encode driver %q location: %w", d.ID, err)
	}
	_, err = r.tx.Exec(ctx, `
        INSERT INTO drivers (id, online_status, availability, location, active_request_id,
                             total_offered, total_accepted, cumulative_online_seconds, online_since, updated_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            online_status             = EXCLUDED.online_status,
            availability              = EXCLUDED.availability,
            location                  = EXCLUDED.location,
            active_request_id         = EXCLUDED.active_request_id,
            total_offered             = EXCLUDED.total_offered,
            total_accepted            = EXCLUDED.total_accepted,
            cumulative_online_seconds = EXCLUDED.cumulative_online_seconds,
            online_since              = EXCLUDED.online_since,
            updated_at                = EXCLUDED.updated_at
    `, d.ID, string(d.OnlineStatus), string(d.Availability), loc, d.ActiveRequestID,
		d.TotalOffered, d.TotalAccepted, d.CumulativeOnlineSeconds, nullTime(d.OnlineSince), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save driver %q: %w", d.ID, classify(err))
	}
	return nil
}

// SaveRequest upserts the request together with its tracking trail.
func (r *TxRepo) SaveRequest(ctx context.Context, req domain.Request) error {
	trail, err := json.Marshal(nonNilTrail(req.Trail))
	if err != nil {
		return fmt.Errorf("encode request %q trail: %w", req.ID, err)
	}
	_, err = r.tx.Exec(ctx, `
        INSERT INTO requests (id, customer_id, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
                              driver_id, fare, trail, created_at, updated_at, assigned_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)
        ON CONFLICT (id) DO UPDATE SET
            status       = EXCLUDED.status,
            driver_id    = EXCLUDED.driver_id,
            trail        = EXCLUDED.trail,
            updated_at   = EXCLUDED.updated_at,
            assigned_at  = EXCLUDED.assigned_at,
            completed_at = EXCLUDED.completed_at
    `, req.ID, req.CustomerID, string(req.Status), req.Pickup.Lat, req.Pickup.Lng, req.Dropoff.Lat, req.Dropoff.Lng,
		req.DriverID, req.Fare, trail, req.CreatedAt, req.UpdatedAt, nullTime(req.AssignedAt), nullTime(req.CompletedAt))
	if err != nil {
		return fmt.Errorf("save request %q: %w", req.ID, classify(err))
	}
	return nil
}

// SaveTrip inserts a completed trip or updates its rating.
func (r *TxRepo) SaveTrip(ctx context.Context, t domain.CompletedTrip) error {
	_, err := r.tx.Exec(ctx, `
        INSERT INTO completed_trips (request_id, driver_id, customer_id, fare, distance_km, completed_at, rating)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (request_id) DO UPDATE SET rating = EXCLUDED.rating
    `, t.RequestID, t.DriverID, t.CustomerID, t.Fare, t.DistanceKm, t.CompletedAt, t.Rating)
	if err != nil {
		return fmt.Errorf("save trip %q: %w", t.RequestID, classify(err))
	}
	return nil
}

// LoadDrivers returns every stored driver.
func (r *DispatchRepo) LoadDrivers(ctx context.Context) ([]domain.Driver, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, online_status, availability, location, COALESCE(active_request_id, ''),
               total_offered, total_accepted, cumulative_online_seconds, online_since, updated_at
        FROM drivers
        ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	defer rows.Close()

	var out []domain.Driver
	for rows.Next() {
		var (
			d           domain.Driver
			loc         []byte
			onlineSince *time.Time
		)
		if err := rows.Scan(&d.ID, &d.OnlineStatus, &d.Availability, &loc, &d.ActiveRequestID,
			&d.TotalOffered, &d.TotalAccepted, &d.CumulativeOnlineSeconds, &onlineSince, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		if len(loc) > 0 {
			var s domain.LocationSample
			if err := json.Unmarshal(loc, &s); err != nil {
				return nil, fmt.Errorf("decode driver %q location: %w", d.ID, err)
			}
			d.Location = &s
		}
		d.OnlineSince = timeOrZero(onlineSince)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadRequests returns every stored request ordered by creation.
func (r *DispatchRepo) LoadRequests(ctx context.Context) ([]domain.Request, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, customer_id, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
               COALESCE(driver_id, ''), fare, trail, created_at, updated_at, assigned_at, completed_at
        FROM requests
        ORDER BY created_at, id
    `)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	defer rows.Close()

	var out []domain.Request
	for rows.Next() {
		var (
			req                    domain.Request
			trail                  []byte
			assignedAt, completeAt *time.Time
		)
		if err := rows.Scan(&req.ID, &req.CustomerID, &req.Status,
			&req.Pickup.Lat, &req.Pickup.Lng, &req.Dropoff.Lat, &req.Dropoff.Lng,
			&req.DriverID, &req.Fare, &trail, &req.CreatedAt, &req.UpdatedAt, &assignedAt, &completeAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		if len(trail) > 0 {
			if err := json.Unmarshal(trail, &req.Trail); err != nil {
				return nil, fmt.Errorf("decode request %q trail: %w", req.ID, err)
			}
		}
		req.AssignedAt = timeOrZero(assignedAt)
		req.CompletedAt = timeOrZero(completeAt)
		out = append(out, req)
	}
	return out, rows.Err()
}

// LoadTrips returns the completed-trip ledger in completion order.
func (r *DispatchRepo) LoadTrips(ctx context.Context) ([]domain.CompletedTrip, error) {
	rows, err := r.db.Query(ctx, `
        SELECT request_id, driver_id, customer_id, fare, distance_km, completed_at, rating
        FROM completed_trips
        ORDER BY completed_at, request_id
    `)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	defer rows.Close()

	var out []domain.CompletedTrip
	for rows.Next() {
		var t domain.CompletedTrip
		if err := rows.Scan(&t.RequestID, &t.DriverID, &t.CustomerID, &t.Fare, &t.DistanceKm, &t.CompletedAt, &t.Rating); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func marshalNullable(loc *domain.LocationSample) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	return json.Marshal(loc)
}

func nonNilTrail(t []domain.LocationSample) []domain.LocationSample {
	if t == nil {
		return []domain.LocationSample{}
	}
	return t
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
