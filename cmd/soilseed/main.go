// Command soilseed registers a starter set of sensors in the configured
// store so the generator and dashboard have something to work with.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/ugsoil/soilserver/internal/config"
	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

var seedSensors = []model.Sensor{
	{
		SensorID: "SENSOR001",
		Name:     "Kampala Sensor",
		Type:     "soil_probe",
		Location: model.Location{
			Coordinates: [2]float64{32.5825, 0.3476},
			District:    "Kampala",
			Subcounty:   "Central",
			Village:     "Nakasero",
		},
	},
	{
		SensorID: "SENSOR002",
		Name:     "Wakiso Sensor",
		Type:     "soil_probe",
		Location: model.Location{
			Coordinates: [2]float64{32.4753, 0.4042},
			District:    "Wakiso",
			Subcounty:   "Kasangati",
			Village:     "Kabanyolo",
		},
	},
	{
		SensorID: "SENSOR003",
		Name:     "Gulu Sensor",
		Type:     "soil_probe",
		Location: model.Location{
			Coordinates: [2]float64{32.29899, 2.7724},
			District:    "Gulu",
			Subcounty:   "Pece",
			Village:     "Layibi",
		},
	},
	{
		SensorID: "SENSOR004",
		Name:     "Mbarara Sensor",
		Type:     "soil_probe",
		Location: model.Location{
			Coordinates: [2]float64{30.6581, -0.6072},
			District:    "Mbarara",
			Subcounty:   "Kakoba",
			Village:     "Nyamitanga",
		},
	},
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	now := time.Now().UTC()
	for i := range seedSensors {
		s := seedSensors[i]
		s.Status = model.SensorActive
		s.InstalledAt = now
		if err := st.SaveSensor(ctx, &s); err != nil {
			logger.Error("save sensor", "sensorId", s.SensorID, "error", err)
			os.Exit(1)
		}
		logger.Info("registered sensor", "sensorId", s.SensorID, "district", s.Location.District)
	}
	logger.Info("seeding complete", "count", len(seedSensors))
}
