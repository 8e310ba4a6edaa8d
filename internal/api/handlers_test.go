package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ugsoil/soilserver/internal/aggregate"
	"github.com/ugsoil/soilserver/internal/config"
	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	agg := aggregate.New(st)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := NewServer(st, agg, log, config.HTTPConfig{
		RequestTimeout: 5 * time.Second,
		IngestRPS:      100,
		IngestBurst:    100,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func seedReading(t *testing.T, st store.Store, sensorID string, at time.Time, ph float64) {
	t.Helper()
	r := model.Reading{
		SensorID:  sensorID,
		Timestamp: at,
		Location:  model.Location{Coordinates: [2]float64{32.5825, 0.3476}},
		Soil:      model.SoilSample{PH: ph, Moisture: 50, Temperature: 22},
	}
	if err := st.InsertReading(context.Background(), &r); err != nil {
		t.Fatalf("seed reading: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestIngestValidReading(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/soil-data", `{
		"sensorId": "SENSOR001",
		"location": {"coordinates": [32.5825, 0.3476], "district": "Kampala"},
		"soil": {"ph": 6.5, "moisture": 45.2, "temperature": 24.1, "nitrogen": 25.5},
		"timestamp": "2024-03-01T10:15:00Z"
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}

	got, err := st.ReadingsSince(context.Background(), "SENSOR001", time.Time{})
	if err != nil || len(got) != 1 {
		t.Fatalf("stored readings = %d, err = %v", len(got), err)
	}
	if got[0].ReceivedAt.IsZero() {
		t.Error("receivedAt not stamped")
	}
}

func TestIngestRejectsOutOfRange(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/soil-data", `{
		"sensorId": "SENSOR001",
		"soil": {"ph": 15.0, "moisture": 45.2, "temperature": 24.1},
		"timestamp": "2024-03-01T10:15:00Z"
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing")
	}

	got, _ := st.ReadingsSince(context.Background(), "SENSOR001", time.Time{})
	if len(got) != 0 {
		t.Error("invalid reading reached the store")
	}
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/soil-data", `{not json`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHourlyEndpoint(t *testing.T) {
	ts, st := newTestServer(t)
	now := time.Now().UTC()
	seedReading(t, st, "SENSOR001", now.Add(-90*time.Minute), 6.0)
	seedReading(t, st, "SENSOR001", now.Add(-80*time.Minute), 7.0)
	seedReading(t, st, "SENSOR001", now.Add(-10*time.Minute), 8.0)

	var records []aggregate.Record
	resp := getJSON(t, ts.URL+"/api/v1/soil/SENSOR001/hourly?hours=24", &records)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	total := 0
	for _, rec := range records {
		total += rec.Readings
	}
	if total != 3 {
		t.Errorf("aggregated %d readings, want 3", total)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Start.Before(records[i-1].Start) {
			t.Fatal("buckets not ascending")
		}
	}
}

func TestAggregateUnknownSensorIsEmptyList(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/soil/GHOST/daily")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (empty result is not an error)", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if got := string(bytes.TrimSpace(raw)); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAggregateRejectsBadWindowParam(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, q := range []string{"hours=0", "hours=-3", "hours=abc"} {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/soil/SENSOR001/hourly?%s", ts.URL, q))
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("?%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts, st := newTestServer(t)
	now := time.Now().UTC()
	seedReading(t, st, "SENSOR001", now.Add(-30*time.Minute), 6.4)

	var snap aggregate.Snapshot
	resp := getJSON(t, ts.URL+"/api/v1/soil/SENSOR001/summary", &snap)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if snap.Latest == nil || snap.Latest.PH != 6.4 {
		t.Errorf("latest = %+v", snap.Latest)
	}
	if snap.OneHour == nil || snap.OneHour.Readings != 1 {
		t.Errorf("oneHour = %+v", snap.OneHour)
	}
}

func TestNearbyEndpoint(t *testing.T) {
	ts, st := newTestServer(t)
	at := time.Now().UTC()
	seedReading(t, st, "NEAR", at, 6.5)
	far := model.Reading{
		SensorID:  "FAR",
		Timestamp: at,
		Location:  model.Location{Coordinates: [2]float64{32.58, 0.80}},
		Soil:      model.SoilSample{PH: 6.5, Moisture: 50, Temperature: 22},
	}
	if err := st.InsertReading(context.Background(), &far); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var readings []model.Reading
	resp := getJSON(t, ts.URL+"/api/v1/soil/nearby?lng=32.5825&lat=0.3476&radius=5000", &readings)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(readings) != 1 || readings[0].SensorID != "NEAR" {
		t.Errorf("got %d readings, want only NEAR", len(readings))
	}
}

func TestNearbyRejectsBadCoordinates(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, q := range []string{
		"lat=0.35&radius=1000",             // lng missing
		"lng=abc&lat=0.35&radius=1000",     // lng not a number
		"lng=32.58&lat=0.35&radius=-5",     // negative radius
		"lng=32.58&lat=0.35&radius=big",    // radius not a number
		"lng=32.58&radius=1000",            // lat missing
	} {
		resp, err := http.Get(ts.URL + "/api/v1/soil/nearby?" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("?%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestSensorCRUD(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/sensors", `{
		"sensorId": "SENSOR001",
		"name": "Kampala Sensor",
		"type": "soil_probe",
		"location": {"coordinates": [32.5825, 0.3476], "district": "Kampala"}
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var created model.Sensor
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != model.SensorActive {
		t.Errorf("status = %q, want defaulted to active", created.Status)
	}

	var got model.Sensor
	if r := getJSON(t, ts.URL+"/api/v1/sensors/SENSOR001", &got); r.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", r.StatusCode)
	}
	if got.Name != "Kampala Sensor" {
		t.Errorf("name = %q", got.Name)
	}

	var all []model.Sensor
	if r := getJSON(t, ts.URL+"/api/v1/sensors", &all); r.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", r.StatusCode)
	}
	if len(all) != 1 {
		t.Errorf("listed %d sensors, want 1", len(all))
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/sensors/SENSOR001",
		bytes.NewBufferString(`{"name": "Kampala North", "status": "maintenance"}`))
	updResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer updResp.Body.Close()
	if updResp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", updResp.StatusCode)
	}
	var updated model.Sensor
	if err := json.NewDecoder(updResp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.SensorID != "SENSOR001" || updated.Status != model.SensorMaintenance {
		t.Errorf("updated = %+v", updated)
	}

	del, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/sensors/SENSOR001", nil)
	delResp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	if r := getJSON(t, ts.URL+"/api/v1/sensors/SENSOR001", nil); r.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", r.StatusCode)
	}
}

func TestUpdateUnknownSensorIs404(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/sensors/GHOST",
		bytes.NewBufferString(`{"name": "Ghost"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestRateLimit(t *testing.T) {
	st := store.NewMemoryStore()
	agg := aggregate.New(st)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := NewServer(st, agg, log, config.HTTPConfig{
		RequestTimeout: 5 * time.Second,
		IngestRPS:      0.001,
		IngestBurst:    1,
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{
		"sensorId": "SENSOR001",
		"soil": {"ph": 6.5, "moisture": 45, "temperature": 24},
		"timestamp": "2024-03-01T10:15:00Z"
	}`
	first := postJSON(t, ts.URL+"/api/v1/soil-data", body)
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first ingest status = %d", first.StatusCode)
	}
	second := postJSON(t, ts.URL+"/api/v1/soil-data", body)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second ingest status = %d, want 429", second.StatusCode)
	}
}
