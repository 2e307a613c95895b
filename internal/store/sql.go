package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"fleettrack/internal/model"
)

// SQL reads the tracking read model:
//
//	tracking_active_journeys(workspace_id, id, status, driver_id, driver_name,
//	  vehicle_id, vehicle_plate, route_id, completed_stops, total_stops,
//	  current_stop_index, lat, lng, speed, heading, accuracy, observed_at)
//	tracking_journey_stops(journey_id, id, name, seq, lat, lng, eta, completed)
//	tracking_active_vehicles(workspace_id, vehicle_id, plate, driver_id,
//	  driver_name, journey_id, lat, lng, updated_at)
type SQL struct {
	db          *sqlx.DB
	workspaceID string
}

func NewSQL(dsn, workspaceID string) (*SQL, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect read model: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQL{db: db, workspaceID: workspaceID}, nil
}

// NewSQLFromDB wraps an existing handle.
func NewSQLFromDB(db *sqlx.DB, workspaceID string) *SQL {
	return &SQL{db: db, workspaceID: workspaceID}
}

func (s *SQL) Close() error { return s.db.Close() }

type journeyRow struct {
	ID               string          `db:"id"`
	Status           string          `db:"status"`
	DriverID         sql.NullString  `db:"driver_id"`
	DriverName       sql.NullString  `db:"driver_name"`
	VehicleID        sql.NullString  `db:"vehicle_id"`
	VehiclePlate     sql.NullString  `db:"vehicle_plate"`
	RouteID          sql.NullString  `db:"route_id"`
	CompletedStops   int             `db:"completed_stops"`
	TotalStops       int             `db:"total_stops"`
	CurrentStopIndex int             `db:"current_stop_index"`
	Lat              sql.NullFloat64 `db:"lat"`
	Lng              sql.NullFloat64 `db:"lng"`
	Speed            sql.NullFloat64 `db:"speed"`
	Heading          sql.NullFloat64 `db:"heading"`
	Accuracy         sql.NullFloat64 `db:"accuracy"`
	ObservedAt       sql.NullTime    `db:"observed_at"`
}

type stopRow struct {
	JourneyID string          `db:"journey_id"`
	ID        string          `db:"id"`
	Name      sql.NullString  `db:"name"`
	Seq       int             `db:"seq"`
	Lat       sql.NullFloat64 `db:"lat"`
	Lng       sql.NullFloat64 `db:"lng"`
	ETA       sql.NullTime    `db:"eta"`
	Completed bool            `db:"completed"`
}

type vehicleRow struct {
	VehicleID  string          `db:"vehicle_id"`
	Plate      sql.NullString  `db:"plate"`
	DriverID   sql.NullString  `db:"driver_id"`
	DriverName sql.NullString  `db:"driver_name"`
	JourneyID  sql.NullString  `db:"journey_id"`
	Lat        sql.NullFloat64 `db:"lat"`
	Lng        sql.NullFloat64 `db:"lng"`
	UpdatedAt  sql.NullTime    `db:"updated_at"`
}

const journeysQuery = `
	SELECT id::text, status::text, driver_id::text, driver_name, vehicle_id::text, vehicle_plate,
	       route_id::text, completed_stops, total_stops, current_stop_index,
	       lat, lng, speed, heading, accuracy, observed_at
	FROM tracking_active_journeys
	WHERE workspace_id = $1
	ORDER BY id`

const stopsQuery = `
	SELECT journey_id::text, id::text, name, seq, lat, lng, eta, completed
	FROM tracking_journey_stops
	WHERE journey_id::text IN (?)
	ORDER BY journey_id, seq`

const vehiclesQuery = `
	SELECT vehicle_id::text, plate, driver_id::text, driver_name, journey_id::text, lat, lng, updated_at
	FROM tracking_active_vehicles
	WHERE workspace_id = $1
	ORDER BY vehicle_id`

func (s *SQL) FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error) {
	var rows []journeyRow
	if err := s.db.SelectContext(ctx, &rows, journeysQuery, s.workspaceID); err != nil {
		return nil, fmt.Errorf("select journeys: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	stops, err := s.stopsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.TrackedJourney, 0, len(rows))
	for _, r := range rows {
		j, err := r.journey()
		if err != nil {
			log.Printf("store: skipping journey %s: %v", r.ID, err)
			continue
		}
		j.Stops = stops[r.ID]
		j.Normalize()
		out = append(out, j)
	}
	return out, nil
}

func (s *SQL) stopsFor(ctx context.Context, ids []string) (map[string][]model.Stop, error) {
	q, args, err := sqlx.In(stopsQuery, ids)
	if err != nil {
		return nil, err
	}
	var rows []stopRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select stops: %w", err)
	}
	out := map[string][]model.Stop{}
	for _, r := range rows {
		st := model.Stop{ID: r.ID, Name: r.Name.String, Seq: r.Seq, Completed: r.Completed}
		if r.Lat.Valid && r.Lng.Valid {
			st.Location = &model.GeoPoint{Lat: r.Lat.Float64, Lng: r.Lng.Float64}
		}
		if r.ETA.Valid {
			eta := r.ETA.Time.UTC()
			st.EstimatedArrival = &eta
		}
		out[r.JourneyID] = append(out[r.JourneyID], st)
	}
	return out, nil
}

func (r journeyRow) journey() (model.TrackedJourney, error) {
	status, err := model.ParseStatus(r.Status)
	if err != nil {
		return model.TrackedJourney{}, err
	}
	j := model.TrackedJourney{
		ID:               r.ID,
		Status:           status,
		DriverID:         r.DriverID.String,
		DriverName:       r.DriverName.String,
		VehicleID:        r.VehicleID.String,
		VehiclePlate:     r.VehiclePlate.String,
		RouteID:          r.RouteID.String,
		CompletedStops:   r.CompletedStops,
		TotalStops:       r.TotalStops,
		CurrentStopIndex: r.CurrentStopIndex,
	}
	if r.Lat.Valid && r.Lng.Valid {
		j.Location = &model.Location{
			Lat:      r.Lat.Float64,
			Lng:      r.Lng.Float64,
			Speed:    r.Speed.Float64,
			Heading:  r.Heading.Float64,
			Accuracy: r.Accuracy.Float64,
		}
		if r.ObservedAt.Valid {
			j.Location.ObservedAt = r.ObservedAt.Time.UTC()
		}
	}
	return j, nil
}

func (s *SQL) FetchActiveVehicles(ctx context.Context) ([]model.ActiveVehicle, error) {
	var rows []vehicleRow
	if err := s.db.SelectContext(ctx, &rows, vehiclesQuery, s.workspaceID); err != nil {
		return nil, fmt.Errorf("select vehicles: %w", err)
	}
	out := make([]model.ActiveVehicle, 0, len(rows))
	for _, r := range rows {
		v := model.ActiveVehicle{
			VehicleID:  r.VehicleID,
			Plate:      r.Plate.String,
			DriverID:   r.DriverID.String,
			DriverName: r.DriverName.String,
			JourneyID:  r.JourneyID.String,
		}
		if r.Lat.Valid && r.Lng.Valid {
			v.Location = &model.GeoPoint{Lat: r.Lat.Float64, Lng: r.Lng.Float64}
		}
		if r.UpdatedAt.Valid {
			v.UpdatedAt = r.UpdatedAt.Time.UTC()
		}
		out = append(out, v)
	}
	return out, nil
}
