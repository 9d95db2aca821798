package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventColumns = []string{
	"id", "timestamp", "plate_number", "event_type", "camera_id", "vehicle_type",
	"vehicle_color", "plate_color", "image_filename", "driving_direction", "vehicle_speed",
	"lane", "received_at",
}

func sampleEvent() *PlateEvent {
	return &PlateEvent{
		Timestamp:        time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		PlateNumber:      "KA01AB1234",
		EventType:        "TrafficJunction",
		CameraID:         "cam-entrance",
		VehicleType:      "Car",
		VehicleColor:     "White",
		PlateColor:       "Unknown",
		ImageFilename:    "20260314093000_cam-entrance_ab12.jpg",
		DrivingDirection: "Approach",
		VehicleSpeed:     42,
		Lane:             "2",
		ReceivedAt:       time.Date(2026, 3, 14, 9, 30, 1, 0, time.UTC),
	}
}

func TestEventModel_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := &EventModel{DB: db}
	e := sampleEvent()

	mock.ExpectQuery("INSERT INTO anpr_events").
		WithArgs(e.Timestamp, e.PlateNumber, e.EventType, e.CameraID, e.VehicleType, e.VehicleColor,
			e.PlateColor, e.ImageFilename, e.DrivingDirection, e.VehicleSpeed, e.Lane, e.ReceivedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, m.Insert(context.Background(), e))
	assert.Equal(t, int64(7), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventModel_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := &EventModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM anpr_events").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	got, err := m.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEventModel_List_NoFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := &EventModel{DB: db}
	e := sampleEvent()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM anpr_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM anpr_events").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow(
			1, e.Timestamp, e.PlateNumber, e.EventType, e.CameraID, e.VehicleType,
			e.VehicleColor, e.PlateColor, e.ImageFilename, e.DrivingDirection, e.VehicleSpeed,
			e.Lane, e.ReceivedAt,
		))

	list, total, err := m.List(context.Background(), EventFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "KA01AB1234", list[0].PlateNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventModel_List_PlateAndRangeFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := &EventModel{DB: db}
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM anpr_events WHERE plate_number ILIKE (.+) AND timestamp >= (.+) AND timestamp <= (.+)").
		WithArgs("%KA01%", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT (.+) FROM anpr_events WHERE plate_number ILIKE").
		WithArgs("%KA01%", from, to, 25, 50).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	list, total, err := m.List(context.Background(), EventFilter{Plate: "KA01", From: from, To: to}, 25, 50)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventModel_SchemaReady(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := &EventModel{DB: db}

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := m.SchemaReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
