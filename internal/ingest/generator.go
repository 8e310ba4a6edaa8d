// Package ingest feeds the reading store: a synthetic generator driven by a
// ticker, and an MQTT bridge for field devices.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

// Generator produces one synthetic reading per active registered sensor,
// timestamped at the top of the current hour. It stands in for real field
// hardware in demo and test deployments.
type Generator struct {
	store store.Store
	log   *slog.Logger
	rand  *rand.Rand
	now   func() time.Time
}

// NewGenerator creates a Generator over st.
func NewGenerator(st store.Store, log *slog.Logger) *Generator {
	return &Generator{
		store: st,
		log:   log,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// GenerateAndInsert writes one reading per active sensor and returns how
// many were inserted. With no registered sensors it inserts nothing.
func (g *Generator) GenerateAndInsert(ctx context.Context) (int, error) {
	sensors, err := g.store.Sensors(ctx)
	if err != nil {
		return 0, err
	}

	now := g.now().UTC()
	ts := now.Truncate(time.Hour)

	readings := make([]model.Reading, 0, len(sensors))
	for _, s := range sensors {
		if s.Status != "" && s.Status != model.SensorActive {
			continue
		}
		readings = append(readings, model.Reading{
			SensorID:   s.SensorID,
			Location:   s.Location,
			Soil:       g.synthSample(),
			Timestamp:  ts,
			ReceivedAt: now,
		})
	}
	if len(readings) == 0 {
		g.log.Warn("no active sensors registered, nothing generated")
		return 0, nil
	}

	if err := g.store.InsertReadings(ctx, readings); err != nil {
		return 0, err
	}
	g.log.Info("inserted synthetic readings", "count", len(readings), "timestamp", ts)
	return len(readings), nil
}

// synthSample produces values in realistic field ranges, rounded to two
// decimals like real probe firmware reports them.
func (g *Generator) synthSample() model.SoilSample {
	f := func(lo, span float64) float64 {
		v := lo + g.rand.Float64()*span
		return math.Round(v*100) / 100
	}
	p := func(lo, span float64) *float64 {
		v := f(lo, span)
		return &v
	}
	return model.SoilSample{
		PH:                     f(6, 2),
		Moisture:               f(30, 50),
		Humidity:               p(40, 30),
		Temperature:            f(15, 20),
		Nitrogen:               p(0, 50),
		Phosphorus:             p(0, 30),
		Potassium:              p(0, 40),
		ElectricalConductivity: p(0, 5),
		OrganicMatter:          p(0, 10),
	}
}

// Scheduler invokes the Generator on a fixed interval until its context is
// cancelled. It fires once immediately on start.
type Scheduler struct {
	gen      *Generator
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler creates a Scheduler running gen every interval.
func NewScheduler(gen *Generator, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{gen: gen, interval: interval, log: log}
}

// Run blocks until ctx is done. Generation failures are logged, not fatal;
// the next tick retries.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.gen.GenerateAndInsert(ctx); err != nil {
		s.log.Error("generate readings", "error", err)
	}
}
