package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ugsoil/soilserver/internal/aggregate"
	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

// respondError maps core failures to status codes: validation errors are
// the caller's fault, missing entities are 404, everything else is a store
// failure surfaced as 500. Empty aggregates never reach here; they are
// successful responses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		s.writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleIngest accepts one reading, validates it, stamps receivedAt and
// stores it.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var reading model.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	reading.ReceivedAt = time.Now().UTC()

	if err := reading.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.InsertReading(r.Context(), &reading); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"receivedAt": reading.ReceivedAt,
	})
}

// windowParam reads an integer query parameter with a default, rejecting
// non-numeric and non-positive values.
func windowParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &model.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return n, nil
}

func (s *Server) serveAggregate(w http.ResponseWriter, r *http.Request, g aggregate.Granularity, since time.Time) {
	sensorID := mux.Vars(r)["sensorId"]
	records, err := s.agg.Aggregate(r.Context(), sensorID, g, since)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleHourly serves hourly buckets over the trailing ?hours window
// (default 24).
func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	hours, err := windowParam(r, "hours", 24)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.serveAggregate(w, r, aggregate.Hourly, time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
}

// handleSixHourly serves six-hour blocks over the trailing ?days window
// (default 3).
func (s *Server) handleSixHourly(w http.ResponseWriter, r *http.Request) {
	days, err := windowParam(r, "days", 3)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.serveAggregate(w, r, aggregate.SixHourly, time.Now().UTC().AddDate(0, 0, -days))
}

// handleDaily serves daily buckets over the trailing ?days window
// (default 7).
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	days, err := windowParam(r, "days", 7)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.serveAggregate(w, r, aggregate.Daily, time.Now().UTC().AddDate(0, 0, -days))
}

// handleWeekly serves ISO-week buckets over the trailing ?weeks window
// (default 4).
func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	weeks, err := windowParam(r, "weeks", 4)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.serveAggregate(w, r, aggregate.Weekly, time.Now().UTC().AddDate(0, 0, -7*weeks))
}

// handleMonthly serves calendar-month buckets over the trailing ?months
// window (default 6).
func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	months, err := windowParam(r, "months", 6)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.serveAggregate(w, r, aggregate.Monthly, time.Now().UTC().AddDate(0, -months, 0))
}

// handleSummary serves the combined multi-window snapshot.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agg.Summary(r.Context(), mux.Vars(r)["sensorId"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleNearby serves readings within ?radius meters of (?lng, ?lat).
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		s.respondError(w, &model.ValidationError{Field: "lng", Reason: "must be a number"})
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		s.respondError(w, &model.ValidationError{Field: "lat", Reason: "must be a number"})
		return
	}
	radius, err := strconv.ParseFloat(q.Get("radius"), 64)
	if err != nil || radius < 0 {
		s.respondError(w, &model.ValidationError{Field: "radius", Reason: "must be a non-negative number"})
		return
	}

	readings, err := s.store.ReadingsWithinRadius(r.Context(), lng, lat, radius)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleRegisterSensor(w http.ResponseWriter, r *http.Request) {
	var sensor model.Sensor
	if err := json.NewDecoder(r.Body).Decode(&sensor); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sensor.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	if sensor.Status == "" {
		sensor.Status = model.SensorActive
	}
	if sensor.InstalledAt.IsZero() {
		sensor.InstalledAt = time.Now().UTC()
	}
	if err := s.store.SaveSensor(r.Context(), &sensor); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sensor)
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.store.Sensors(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, err := s.store.SensorByID(r.Context(), mux.Vars(r)["sensorId"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensorId"]
	if _, err := s.store.SensorByID(r.Context(), sensorID); err != nil {
		s.respondError(w, err)
		return
	}

	var sensor model.Sensor
	if err := json.NewDecoder(r.Body).Decode(&sensor); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sensor.SensorID = sensorID
	if err := sensor.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.SaveSensor(r.Context(), &sensor); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSensor(r.Context(), mux.Vars(r)["sensorId"]); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "sensor deleted"})
}
