package kernel

import (
	"context"
	"log/slog"
)

// DetectorReading is one loop detector's measurements for the last step.
type DetectorReading struct {
	Count     int
	MeanSpeed float64
	Occupancy float64
}

// DetectorKernel caches the detector inventory and per-step readings.
type DetectorKernel struct {
	log *slog.Logger
	api API

	ids      []int
	readings map[int]DetectorReading
}

func newDetectorKernel(log *slog.Logger, api API) *DetectorKernel {
	return &DetectorKernel{
		log:      log,
		api:      api,
		readings: make(map[int]DetectorReading),
	}
}

func (k *DetectorKernel) update(ctx context.Context, reset bool) error {
	if reset || k.ids == nil {
		ids, err := k.api.DetectorIDs(ctx)
		if err != nil {
			return err
		}

		k.ids = ids
		k.readings = make(map[int]DetectorReading, len(ids))
	}

	for _, id := range k.ids {
		count, err := k.api.DetectorCount(ctx, id)
		if err != nil {
			return err
		}

		speed, err := k.api.DetectorMeanSpeed(ctx, id)
		if err != nil {
			return err
		}

		occ, err := k.api.DetectorOccupancy(ctx, id)
		if err != nil {
			return err
		}

		k.readings[id] = DetectorReading{Count: count, MeanSpeed: speed, Occupancy: occ}
	}

	return nil
}

// IDs lists the detectors in the network.
func (k *DetectorKernel) IDs() []int {
	return k.ids
}

// Reading returns the cached measurements of a detector.
func (k *DetectorKernel) Reading(id int) (DetectorReading, bool) {
	r, ok := k.readings[id]

	return r, ok
}
