package simulator

import (
	"math"
	"testing"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/ports"
)

func testFlightInput() ports.StartFlightInput {
	return ports.StartFlightInput{
		DeliveryID: "DLV-0123456789",
		StartLat:   43.0,
		StartLng:   76.0,
		EndLat:     44.0,
		EndLng:     78.0,
		Duration:   10 * time.Second,
		Tick:       time.Second,
	}
}

func TestPositionAtMidpoint(t *testing.T) {
	t.Parallel()

	sample := PositionAt(testFlightInput(), 5*time.Second)
	if sample.Progress != 0.5 {
		t.Fatalf("progress = %v, want 0.5", sample.Progress)
	}
	if math.Abs(sample.Latitude-43.5) > 1e-9 {
		t.Errorf("lat = %v, want 43.5", sample.Latitude)
	}
	if math.Abs(sample.Longitude-77.0) > 1e-9 {
		t.Errorf("lng = %v, want 77.0", sample.Longitude)
	}
	if sample.Status != delivery.StatusInFlight {
		t.Errorf("status = %s, want IN_FLIGHT", sample.Status)
	}
}

func TestPositionAtClampsProgress(t *testing.T) {
	t.Parallel()

	in := testFlightInput()

	before := PositionAt(in, -time.Second)
	if before.Progress != 0 || before.Latitude != in.StartLat {
		t.Fatalf("negative elapsed must clamp to start, got progress=%v lat=%v", before.Progress, before.Latitude)
	}

	after := PositionAt(in, time.Minute)
	if after.Progress != 1 || after.Latitude != in.EndLat || after.Longitude != in.EndLng {
		t.Fatalf("overshoot must clamp to end, got progress=%v lat=%v lng=%v",
			after.Progress, after.Latitude, after.Longitude)
	}
	if !after.Delivered() {
		t.Fatal("clamped sample must be DELIVERED")
	}
}

func TestPositionAtStatusBands(t *testing.T) {
	t.Parallel()

	in := testFlightInput()

	cases := []struct {
		elapsed time.Duration
		want    delivery.Status
	}{
		{0, delivery.StatusTakingOff},
		{time.Second, delivery.StatusTakingOff},
		{2 * time.Second, delivery.StatusInFlight},
		{7 * time.Second, delivery.StatusInFlight},
		{8 * time.Second, delivery.StatusApproaching},
		{10 * time.Second, delivery.StatusDelivered},
	}
	for _, tc := range cases {
		if got := PositionAt(in, tc.elapsed).Status; got != tc.want {
			t.Errorf("PositionAt(%v).Status = %s, want %s", tc.elapsed, got, tc.want)
		}
	}
}
