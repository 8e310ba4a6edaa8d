package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func registerSensor(t *testing.T, st store.Store, id, status string) {
	t.Helper()
	s := model.Sensor{
		SensorID: id,
		Name:     id,
		Status:   status,
		Location: model.Location{Coordinates: [2]float64{32.5825, 0.3476}},
	}
	if err := st.SaveSensor(context.Background(), &s); err != nil {
		t.Fatalf("SaveSensor: %v", err)
	}
}

func TestGeneratorOneReadingPerActiveSensor(t *testing.T) {
	st := store.NewMemoryStore()
	registerSensor(t, st, "SENSOR001", model.SensorActive)
	registerSensor(t, st, "SENSOR002", model.SensorActive)
	registerSensor(t, st, "SENSOR003", model.SensorInactive)
	registerSensor(t, st, "SENSOR004", model.SensorMaintenance)

	gen := NewGenerator(st, quietLogger())
	gen.now = func() time.Time {
		return time.Date(2024, 3, 1, 10, 42, 17, 0, time.UTC)
	}

	n, err := gen.GenerateAndInsert(context.Background())
	if err != nil {
		t.Fatalf("GenerateAndInsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted %d readings, want 2 (active sensors only)", n)
	}

	for _, id := range []string{"SENSOR001", "SENSOR002"} {
		got, err := st.ReadingsSince(context.Background(), id, time.Time{})
		if err != nil {
			t.Fatalf("ReadingsSince: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("%s has %d readings, want 1", id, len(got))
		}
		want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		if !got[0].Timestamp.Equal(want) {
			t.Errorf("%s timestamp = %v, want top of hour %v", id, got[0].Timestamp, want)
		}
		if err := got[0].Validate(); err != nil {
			t.Errorf("%s generated invalid sample: %v", id, err)
		}
	}

	for _, id := range []string{"SENSOR003", "SENSOR004"} {
		got, _ := st.ReadingsSince(context.Background(), id, time.Time{})
		if len(got) != 0 {
			t.Errorf("%s has %d readings, want none", id, len(got))
		}
	}
}

func TestGeneratorValueRanges(t *testing.T) {
	st := store.NewMemoryStore()
	registerSensor(t, st, "SENSOR001", model.SensorActive)
	gen := NewGenerator(st, quietLogger())

	for i := 0; i < 20; i++ {
		s := gen.synthSample()
		if s.PH < 6 || s.PH > 8 {
			t.Errorf("ph = %v, want [6,8]", s.PH)
		}
		if s.Moisture < 30 || s.Moisture > 80 {
			t.Errorf("moisture = %v, want [30,80]", s.Moisture)
		}
		if s.Temperature < 15 || s.Temperature > 35 {
			t.Errorf("temperature = %v, want [15,35]", s.Temperature)
		}
		if s.Humidity == nil || *s.Humidity < 40 || *s.Humidity > 70 {
			t.Errorf("humidity = %v, want [40,70]", s.Humidity)
		}
		if s.Nitrogen == nil || *s.Nitrogen < 0 || *s.Nitrogen > 50 {
			t.Errorf("nitrogen = %v, want [0,50]", s.Nitrogen)
		}
	}
}

func TestGeneratorNoSensorsIsNoOp(t *testing.T) {
	gen := NewGenerator(store.NewMemoryStore(), quietLogger())

	n, err := gen.GenerateAndInsert(context.Background())
	if err != nil {
		t.Fatalf("GenerateAndInsert: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d readings, want 0", n)
	}
}

func TestGeneratorCarriesSensorLocation(t *testing.T) {
	st := store.NewMemoryStore()
	registerSensor(t, st, "SENSOR001", model.SensorActive)
	gen := NewGenerator(st, quietLogger())

	if _, err := gen.GenerateAndInsert(context.Background()); err != nil {
		t.Fatalf("GenerateAndInsert: %v", err)
	}
	got, err := st.ReadingsSince(context.Background(), "SENSOR001", time.Time{})
	if err != nil || len(got) != 1 {
		t.Fatalf("readings = %d, err = %v", len(got), err)
	}
	if got[0].Location.Longitude() != 32.5825 || got[0].Location.Latitude() != 0.3476 {
		t.Errorf("location = %+v, want sensor's registered position", got[0].Location)
	}
}
