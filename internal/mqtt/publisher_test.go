package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/kmoran/surplight/internal/light"
)

// cmdRecorder records controller intents driven by the bridge.
type cmdRecorder struct {
	ons  []*[3]uint8
	offs int
}

func (r *cmdRecorder) TurnOn(rgb *[3]uint8) error {
	r.ons = append(r.ons, rgb)
	return nil
}

func (r *cmdRecorder) TurnOff() error {
	r.offs++
	return nil
}

func TestEncodeState(t *testing.T) {
	tests := []struct {
		name      string
		state     light.State
		available bool
		wantJSON  string
	}{
		{
			"on and confirmed",
			light.State{On: true, RGB: [3]uint8{10, 20, 30}},
			true,
			`{"state":"ON","rgb":[10,20,30],"assumed":false}`,
		},
		{
			"off and assumed",
			light.State{RGB: [3]uint8{255, 255, 255}},
			false,
			`{"state":"OFF","rgb":[255,255,255],"assumed":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(encodeState(tt.state, tt.available))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.wantJSON {
				t.Errorf("payload = %s, want %s", got, tt.wantJSON)
			}
		})
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantOns  int
		wantRGB  *[3]uint8
		wantOffs int
	}{
		{"turn on", `{"state":"ON"}`, 1, nil, 0},
		{"turn on lowercase", `{"state":"on"}`, 1, nil, 0},
		{"turn on with color", `{"state":"ON","rgb":[1,2,3]}`, 1, &[3]uint8{1, 2, 3}, 0},
		{"color only implies on", `{"rgb":[9,8,7]}`, 1, &[3]uint8{9, 8, 7}, 0},
		{"turn off", `{"state":"OFF"}`, 0, nil, 1},
		{"empty object ignored", `{}`, 0, nil, 0},
		{"unknown state ignored", `{"state":"TOGGLE"}`, 0, nil, 0},
		{"malformed json ignored", `{"state":`, 0, nil, 0},
		{"rgb out of range ignored", `{"state":"ON","rgb":[300,0,0]}`, 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &cmdRecorder{}
			handleCommand(rec, []byte(tt.payload))

			if len(rec.ons) != tt.wantOns {
				t.Fatalf("TurnOn calls = %d, want %d", len(rec.ons), tt.wantOns)
			}
			if tt.wantOns == 1 {
				got := rec.ons[0]
				switch {
				case tt.wantRGB == nil && got != nil:
					t.Errorf("TurnOn rgb = %v, want nil", *got)
				case tt.wantRGB != nil && (got == nil || *got != *tt.wantRGB):
					t.Errorf("TurnOn rgb = %v, want %v", got, *tt.wantRGB)
				}
			}
			if rec.offs != tt.wantOffs {
				t.Errorf("TurnOff calls = %d, want %d", rec.offs, tt.wantOffs)
			}
		})
	}
}
