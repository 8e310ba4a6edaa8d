package aggregate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

// Averages carries the per-bucket mean of each projected soil field,
// rounded to two decimal places. A field with no non-null values in the
// bucket stays null. electricalConductivity and organicMatter are stored
// on readings but deliberately excluded from this projection.
type Averages struct {
	PH          *float64 `json:"ph"`
	Moisture    *float64 `json:"moisture"`
	Humidity    *float64 `json:"humidity"`
	Temperature *float64 `json:"temperature"`
	Nitrogen    *float64 `json:"nitrogen"`
	Phosphorus  *float64 `json:"phosphorus"`
	Potassium   *float64 `json:"potassium"`
}

// Record is one bucket's aggregate. Start and End are the bucket's
// calendar bounds for hourly, daily and monthly granularities; for
// six-hourly and weekly they report the first and last reading timestamps
// observed inside the bucket. Readings counts every reading in the bucket
// regardless of which fields it carries.
type Record struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Averages Averages  `json:"averages"`
	Readings int       `json:"readings"`
}

// Aggregator computes bucketed and windowed statistics over a Store.
// It holds no mutable state; concurrent calls are independent.
type Aggregator struct {
	store store.Store
	now   func() time.Time
}

// New creates an Aggregator over st.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st, now: time.Now}
}

// Aggregate returns one Record per populated bucket for sensorID, covering
// readings with timestamp >= since, ordered ascending by bucket. A sensor
// or window with no readings yields an empty slice, not an error.
func (a *Aggregator) Aggregate(ctx context.Context, sensorID string, g Granularity, since time.Time) ([]Record, error) {
	if sensorID == "" {
		return nil, &model.ValidationError{Field: "sensorId", Reason: "required"}
	}
	readings, err := a.store.ReadingsSince(ctx, sensorID, since)
	if err != nil {
		return nil, err
	}
	return Bucketize(readings, g), nil
}

// meanAcc folds non-null values into a running mean.
type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v float64) {
	m.sum += v
	m.n++
}

func (m *meanAcc) addPtr(p *float64) {
	if p != nil {
		m.add(*p)
	}
}

func (m *meanAcc) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := round2(m.sum / float64(m.n))
	return &v
}

// round2 rounds to two decimal places, halves away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type bucketAcc struct {
	count      int
	minT, maxT time.Time
	ph, moisture, humidity, temperature,
	nitrogen, phosphorus, potassium meanAcc
}

func (b *bucketAcc) add(r *model.Reading) {
	t := r.Timestamp.UTC()
	if b.count == 0 || t.Before(b.minT) {
		b.minT = t
	}
	if b.count == 0 || t.After(b.maxT) {
		b.maxT = t
	}
	b.count++
	b.ph.add(r.Soil.PH)
	b.moisture.add(r.Soil.Moisture)
	b.temperature.add(r.Soil.Temperature)
	b.humidity.addPtr(r.Soil.Humidity)
	b.nitrogen.addPtr(r.Soil.Nitrogen)
	b.phosphorus.addPtr(r.Soil.Phosphorus)
	b.potassium.addPtr(r.Soil.Potassium)
}

func (b *bucketAcc) averages() Averages {
	return Averages{
		PH:          b.ph.value(),
		Moisture:    b.moisture.value(),
		Humidity:    b.humidity.value(),
		Temperature: b.temperature.value(),
		Nitrogen:    b.nitrogen.value(),
		Phosphorus:  b.phosphorus.value(),
		Potassium:   b.potassium.value(),
	}
}

// Bucketize groups readings into g's calendar buckets and computes each
// bucket's aggregate. It is pure: identical input yields identical output.
func Bucketize(readings []model.Reading, g Granularity) []Record {
	spec := specs[g]
	buckets := make(map[bucketKey]*bucketAcc)
	for i := range readings {
		k := spec.key(readings[i].Timestamp)
		acc := buckets[k]
		if acc == nil {
			acc = &bucketAcc{}
			buckets[k] = acc
		}
		acc.add(&readings[i])
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		acc := buckets[k]
		start, end := spec.bounds(k)
		if spec.observedBounds {
			start, end = acc.minT, acc.maxT
		}
		records = append(records, Record{
			Label:    spec.label(k),
			Start:    start,
			End:      end,
			Averages: acc.averages(),
			Readings: acc.count,
		})
	}
	return records
}
