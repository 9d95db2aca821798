package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PlateEvent is one stored recognition row.
type PlateEvent struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	PlateNumber      string    `json:"plate_number"`
	EventType        string    `json:"event_type"`
	CameraID         string    `json:"camera_id"`
	VehicleType      string    `json:"vehicle_type"`
	VehicleColor     string    `json:"vehicle_color"`
	PlateColor       string    `json:"plate_color"`
	ImageFilename    string    `json:"image_filename"`
	DrivingDirection string    `json:"driving_direction"`
	VehicleSpeed     int       `json:"vehicle_speed"`
	Lane             string    `json:"lane"`
	ReceivedAt       time.Time `json:"received_at"`
}

// EventFilter narrows ListEvents. Zero values mean "no constraint".
type EventFilter struct {
	Plate       string
	CameraID    string
	Direction   string
	VehicleType string
	From        time.Time
	To          time.Time
}

type EventModel struct {
	DB *sql.DB
}

func (m *EventModel) Insert(ctx context.Context, e *PlateEvent) error {
	query := `
		INSERT INTO anpr_events (timestamp, plate_number, event_type, camera_id, vehicle_type, vehicle_color, plate_color, image_filename, driving_direction, vehicle_speed, lane, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	return m.DB.QueryRowContext(ctx, query,
		e.Timestamp, e.PlateNumber, e.EventType, e.CameraID, e.VehicleType, e.VehicleColor,
		e.PlateColor, e.ImageFilename, e.DrivingDirection, e.VehicleSpeed, e.Lane, e.ReceivedAt,
	).Scan(&e.ID)
}

func (m *EventModel) GetByID(ctx context.Context, id int64) (*PlateEvent, error) {
	query := `
		SELECT id, timestamp, plate_number, event_type, camera_id, vehicle_type, vehicle_color, plate_color, image_filename, driving_direction, vehicle_speed, lane, received_at
		FROM anpr_events
		WHERE id = $1
	`
	var e PlateEvent
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Timestamp, &e.PlateNumber, &e.EventType, &e.CameraID, &e.VehicleType,
		&e.VehicleColor, &e.PlateColor, &e.ImageFilename, &e.DrivingDirection, &e.VehicleSpeed,
		&e.Lane, &e.ReceivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns a filtered page, newest first, plus the total count the
// filter matches so callers can paginate.
func (m *EventModel) List(ctx context.Context, f EventFilter, limit, offset int) ([]*PlateEvent, int, error) {
	where, args := buildEventWhere(f)

	countQuery := "SELECT count(*) FROM anpr_events" + where
	var total int
	if err := m.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, plate_number, event_type, camera_id, vehicle_type, vehicle_color, plate_color, image_filename, driving_direction, vehicle_speed, lane, received_at
		FROM anpr_events%s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*PlateEvent
	for rows.Next() {
		var e PlateEvent
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.PlateNumber, &e.EventType, &e.CameraID, &e.VehicleType,
			&e.VehicleColor, &e.PlateColor, &e.ImageFilename, &e.DrivingDirection, &e.VehicleSpeed,
			&e.Lane, &e.ReceivedAt,
		); err != nil {
			return nil, 0, err
		}
		list = append(list, &e)
	}
	return list, total, rows.Err()
}

func buildEventWhere(f EventFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Plate != "" {
		// Partial plate searches are the common operator workflow.
		add("plate_number ILIKE $%d", "%"+f.Plate+"%")
	}
	if f.CameraID != "" {
		add("camera_id = $%d", f.CameraID)
	}
	if f.Direction != "" {
		add("driving_direction = $%d", f.Direction)
	}
	if f.VehicleType != "" {
		add("vehicle_type = $%d", f.VehicleType)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SchemaReady reports whether the events table exists; the health
// endpoint exposes it separately from plain connectivity.
func (m *EventModel) SchemaReady(ctx context.Context) (bool, error) {
	var exists bool
	err := m.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'anpr_events')`,
	).Scan(&exists)
	return exists, err
}

func (m *EventModel) Ping(ctx context.Context) error {
	return m.DB.PingContext(ctx)
}
