package tools

import (
	"context"
	"testing"
)

type fakeLocationSender struct {
	called bool
}

func (f *fakeLocationSender) SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (string, error) {
	f.called = true
	return "wamid.123", nil
}

func TestSendLocation_CoordinateBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		lat, lon  float64
		wantError bool
	}{
		{"both at extreme valid bounds", -90, -180, false},
		{"both at opposite extreme valid bounds", 90, 180, false},
		{"lat just over", 90.0001, 0, true},
		{"lat just under", -90.0001, 0, true},
		{"lon just over", 0, 180.0001, true},
		{"lon just under", 0, -180.0001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeLocationSender{}
			fs := &fakeActionStore{}
			tool := NewSendLocationTool(sender, fs)
			turn := TurnContext{ContactNumber: "15551234567"}

			result := tool.Execute(context.Background(), turn, map[string]interface{}{
				"to_number": "15551234567",
				"lat":       tt.lat,
				"lon":       tt.lon,
			})

			if tt.wantError && !result.IsError {
				t.Errorf("lat=%v lon=%v: expected error, got %+v", tt.lat, tt.lon, result)
			}
			if !tt.wantError && result.IsError {
				t.Errorf("lat=%v lon=%v: unexpected error: %+v", tt.lat, tt.lon, result)
			}
		})
	}
}

func TestSendLocation_RejectsForeignToNumber(t *testing.T) {
	sender := &fakeLocationSender{}
	fs := &fakeActionStore{}
	tool := NewSendLocationTool(sender, fs)
	turn := TurnContext{ContactNumber: "15551234567"}

	result := tool.Execute(context.Background(), turn, map[string]interface{}{
		"to_number": "19998887777",
		"lat":       0.0,
		"lon":       0.0,
	})

	if !result.IsError {
		t.Fatal("expected rejection when to_number does not match the current contact")
	}
	if sender.called {
		t.Error("transport must not be invoked for a rejected send")
	}
}
