package pentair

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nerrad567/pentair-cloud-core/internal/entity"
)

func TestParseCommand(t *testing.T) {
	pct := func(v int) *int { return &v }
	num := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		entity  string
		payload string
		want    CommandMessage
		wantErr bool
	}{
		{"on", entity.KeyLight, "ON", CommandMessage{Action: entity.ActionTurnOn}, false},
		{"off", entity.KeyPump, " off\n", CommandMessage{Action: entity.ActionTurnOff}, false},
		{"number on pump", entity.KeyPump, "75", CommandMessage{Action: entity.ActionSetPercentage, Percentage: pct(75)}, false},
		{"number on speed", entity.KeyPumpSpeed, "62.5", CommandMessage{Action: entity.ActionSetValue, Value: num(62.5)}, false},
		{"number on climate", EntityClimate, "84", CommandMessage{Action: ActionSetTemperature, Temperature: num(84)}, false},
		{
			"json",
			entity.KeyPump,
			`{"id":"abc","action":"set_preset_mode","preset_mode":"high","source":"ha"}`,
			CommandMessage{ID: "abc", Action: entity.ActionSetPreset, Preset: "high", Source: "ha"},
			false,
		},
		{"json without action", entity.KeyPump, `{"percentage":50}`, CommandMessage{}, true},
		{"broken json", entity.KeyPump, `{"action":`, CommandMessage{}, true},
		{"garbage", entity.KeyPump, "fast", CommandMessage{}, true},
		{"empty", entity.KeyPump, "  ", CommandMessage{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.entity, []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("ParseCommand() error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if got.ID == "" {
				t.Error("ParseCommand() left ID empty")
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(CommandMessage{}, "ID")); tt.want.ID == "" && diff != "" {
				t.Errorf("ParseCommand() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got); tt.want.ID != "" && diff != "" {
				t.Errorf("ParseCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntityCommand(t *testing.T) {
	p := 30
	msg := CommandMessage{Action: entity.ActionSetPercentage, Percentage: &p, Mode: "heat"}
	want := entity.Command{Action: entity.ActionSetPercentage, Percentage: &p}
	if diff := cmp.Diff(want, msg.EntityCommand()); diff != "" {
		t.Errorf("EntityCommand() mismatch (-want +got):\n%s", diff)
	}
}
