package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/ugsoil/soilserver/internal/model"
)

// Window is a single unbucketed aggregate over one trailing time range.
type Window struct {
	Averages Averages `json:"averages"`
	Readings int      `json:"readings"`
}

// Snapshot is the combined dashboard summary for one sensor. Each window
// field is null when its range matched no readings; Latest is null when the
// sensor has never reported.
type Snapshot struct {
	Latest          *model.SoilSample `json:"latest"`
	LatestTimestamp *time.Time        `json:"latestTimestamp"`
	OneHour         *Window           `json:"oneHour"`
	SixHours        *Window           `json:"sixHours"`
	Today           *Window           `json:"today"`
	Week            *Window           `json:"week"`
	Month           *Window           `json:"month"`
}

// Summary assembles the latest reading plus five trailing windows: last
// hour, last six hours, since UTC midnight, last seven days and since the
// first of the current calendar month. The window ranges are evaluated at
// call time, so two calls straddling midnight will disagree about "today".
// The six queries run concurrently; any store failure fails the summary.
func (a *Aggregator) Summary(ctx context.Context, sensorID string) (*Snapshot, error) {
	if sensorID == "" {
		return nil, &model.ValidationError{Field: "sensorId", Reason: "required"}
	}

	now := a.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	starts := []time.Time{
		now.Add(-time.Hour),
		now.Add(-6 * time.Hour),
		midnight,
		now.AddDate(0, 0, -7),
		monthStart,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		windows  = make([]*Window, len(starts))
		latest   *model.Reading
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(len(starts) + 1)
	go func() {
		defer wg.Done()
		r, err := a.store.LatestReading(ctx, sensorID)
		if err != nil {
			fail(err)
			return
		}
		latest = r
	}()
	for i, since := range starts {
		go func(i int, since time.Time) {
			defer wg.Done()
			readings, err := a.store.ReadingsSince(ctx, sensorID, since)
			if err != nil {
				fail(err)
				return
			}
			windows[i] = composeWindow(readings)
		}(i, since)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	snap := &Snapshot{
		OneHour:  windows[0],
		SixHours: windows[1],
		Today:    windows[2],
		Week:     windows[3],
		Month:    windows[4],
	}
	if latest != nil {
		soil := latest.Soil
		ts := latest.Timestamp
		snap.Latest = &soil
		snap.LatestTimestamp = &ts
	}
	return snap, nil
}

// composeWindow folds readings into one Window, or nil when there are none.
func composeWindow(readings []model.Reading) *Window {
	if len(readings) == 0 {
		return nil
	}
	var acc bucketAcc
	for i := range readings {
		acc.add(&readings[i])
	}
	return &Window{Averages: acc.averages(), Readings: acc.count}
}
