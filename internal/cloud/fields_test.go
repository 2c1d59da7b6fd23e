package cloud

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

func intPtr(v int) *int { return &v }

func TestFields_UnmarshalJSON(t *testing.T) {
	data := []byte(`{"s14":{"value":"3"},"s18":{"value":812},"s21":{"value":true},"zp1e2":{"value":"Max"},"x":{"value":null},"y":{}}`)

	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := Fields{"s14": "3", "s18": "812", "s21": "true", "zp1e2": "Max"}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
}

func TestFields_Accessors(t *testing.T) {
	f := Fields{"n": "42", "bad": "4x", "on": "1", "off": "0", "weird": "yes"}

	if v, err := f.Int("n"); err != nil || v != 42 {
		t.Errorf("Int(n) = %d, %v; want 42, nil", v, err)
	}
	if _, err := f.Int("missing"); !errors.Is(err, ErrMissingField) {
		t.Errorf("Int(missing) error = %v, want ErrMissingField", err)
	}
	if _, err := f.Int("bad"); !errors.Is(err, ErrMalformedField) {
		t.Errorf("Int(bad) error = %v, want ErrMalformedField", err)
	}
	if v, err := f.IntOr("missing", 7); err != nil || v != 7 {
		t.Errorf("IntOr(missing) = %d, %v; want 7, nil", v, err)
	}
	if _, err := f.IntOr("bad", 7); !errors.Is(err, ErrProtocol) {
		t.Errorf("IntOr(bad) error = %v, want ErrProtocol", err)
	}
	if v, err := f.TenthsOr("n", 0); err != nil || v != 4.2 {
		t.Errorf("TenthsOr(n) = %v, %v; want 4.2, nil", v, err)
	}
	if v, err := f.Flag("on"); err != nil || !v {
		t.Errorf("Flag(on) = %v, %v; want true, nil", v, err)
	}
	if v, err := f.FlagOr("off", true); err != nil || v {
		t.Errorf("FlagOr(off) = %v, %v; want false, nil", v, err)
	}
	if _, err := f.Flag("weird"); !errors.Is(err, ErrMalformedField) {
		t.Errorf("Flag(weird) error = %v, want ErrMalformedField", err)
	}
	if got := f.StringOr("missing", "def"); got != "def" {
		t.Errorf("StringOr(missing) = %q, want def", got)
	}
}

func TestDecodeStatus_ActiveProgram(t *testing.T) {
	for i := 0; i <= 97; i++ {
		got, err := DecodeStatus(Fields{FieldActiveProgram: strconv.Itoa(i)})
		if err != nil {
			t.Fatalf("DecodeStatus(s14=%d) error = %v", i, err)
		}
		if got.Telemetry.ActivePumpProgram == nil || *got.Telemetry.ActivePumpProgram != i+1 {
			t.Errorf("DecodeStatus(s14=%d).ActivePumpProgram = %v, want %d", i, got.Telemetry.ActivePumpProgram, i+1)
		}
	}

	got, err := DecodeStatus(Fields{FieldActiveProgram: "99"})
	if err != nil {
		t.Fatalf("DecodeStatus(s14=99) error = %v", err)
	}
	if got.Telemetry.ActivePumpProgram != nil {
		t.Errorf("DecodeStatus(s14=99).ActivePumpProgram = %d, want nil", *got.Telemetry.ActivePumpProgram)
	}
}

func TestDecodeStatus_Full(t *testing.T) {
	f := Fields{
		"s14": "1", "s18": "812", "s19": "24505", "s26": "412", "s21": "0", "s22": "1",
		"zp1e13": "1", "zp1e2": "Max", "zp1e5": "2", "zp1e10": "0",
		"zp2e13": "1", "zp2e2": "Medium", "zp2e5": "2", "zp2e10": "3",
		"zp3e13": "0", "zp3e2": "Disabled",
		"zp6e13": "1",
	}

	got, err := DecodeStatus(f)
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}

	want := DecodedStatus{
		Telemetry: device.Telemetry{
			ActivePumpProgram: intPtr(2),
			MotorSpeed:        2450.5,
			Power:             812,
			FlowRate:          41.2,
			Relay2On:          true,
		},
		Programs: []ProgramSlot{
			{ID: 1, Name: "Max", Type: device.ProgramTypeManual, ControlValue: 0},
			{ID: 2, Name: "Medium", Type: device.ProgramTypeManual, ControlValue: 3},
			{ID: 6, Name: "Program 6", Type: device.ProgramTypeSchedule, ControlValue: 0},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeStatus() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatus_Defaults(t *testing.T) {
	got, err := DecodeStatus(Fields{})
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if diff := cmp.Diff(DecodedStatus{}, got); diff != "" {
		t.Errorf("DecodeStatus(empty) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatus_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{"active program", Fields{"s14": "abc"}},
		{"motor speed", Fields{"s19": "1.5"}},
		{"relay", Fields{"s21": "on"}},
		{"program control", Fields{"zp2e13": "1", "zp2e10": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeStatus(tt.fields); !errors.Is(err, ErrMalformedField) {
				t.Errorf("DecodeStatus() error = %v, want ErrMalformedField", err)
			}
		})
	}
}

func TestProgramControlField(t *testing.T) {
	if got := ProgramControlField(4); got != "zp4e10" {
		t.Errorf("ProgramControlField(4) = %q, want zp4e10", got)
	}
}
