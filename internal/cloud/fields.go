package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// noActiveProgram is the s14 value reported when no program drives the pump.
const noActiveProgram = 99

// Status field codes of an IntelliFlo controller.
const (
	FieldActiveProgram = "s14"
	FieldPower         = "s18"
	FieldMotorSpeed    = "s19"
	FieldRelay1        = "s21"
	FieldRelay2        = "s22"
	FieldFlowRate      = "s26"
)

// ProgramControlField returns the zp{n}e10 code that arms or disarms program n.
func ProgramControlField(n int) string {
	return fmt.Sprintf("zp%de10", n)
}

func programField(n, element int) string {
	return fmt.Sprintf("zp%de%d", n, element)
}

// Fields is the raw field map of one device, keyed by field code.
//
// The wire form is {"code": {"value": ...}}; values arrive as strings but
// bare numbers and booleans are accepted too.
type Fields map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Fields, len(raw))
	for code, field := range raw {
		v := bytes.TrimSpace(field.Value)
		if len(v) == 0 || bytes.Equal(v, []byte("null")) {
			continue
		}
		if v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("field %s: %w", code, err)
			}
			out[code] = s
			continue
		}
		out[code] = string(v)
	}
	*f = out
	return nil
}

// Value returns the raw value of a field.
func (f Fields) Value(code string) (string, bool) {
	v, ok := f[code]
	return v, ok
}

// Int decodes an integer field.
func (f Fields) Int(code string) (int, error) {
	v, ok := f[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, code)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedField, code, v)
	}
	return n, nil
}

// IntOr decodes an integer field, returning def when it is missing.
func (f Fields) IntOr(code string, def int) (int, error) {
	if _, ok := f[code]; !ok {
		return def, nil
	}
	return f.Int(code)
}

// TenthsOr decodes a field reported in tenths of a unit.
func (f Fields) TenthsOr(code string, def float64) (float64, error) {
	if _, ok := f[code]; !ok {
		return def, nil
	}
	n, err := f.Int(code)
	if err != nil {
		return 0, err
	}
	return float64(n) / 10, nil
}

// Flag decodes a "0"/"1" field.
func (f Fields) Flag(code string) (bool, error) {
	v, ok := f[code]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingField, code)
	}
	switch v {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrMalformedField, code, v)
	}
}

// FlagOr decodes a "0"/"1" field, returning def when it is missing.
func (f Fields) FlagOr(code string, def bool) (bool, error) {
	if _, ok := f[code]; !ok {
		return def, nil
	}
	return f.Flag(code)
}

// StringOr returns a field's value, or def when it is missing.
func (f Fields) StringOr(code, def string) string {
	if v, ok := f[code]; ok {
		return v
	}
	return def
}

// ProgramSlot is a program decoded from the zp{n}e* fields.
type ProgramSlot struct {
	ID           int
	Name         string
	Type         device.ProgramType
	ControlValue int
}

// DecodedStatus is the merged view of one device's field map.
type DecodedStatus struct {
	Telemetry device.Telemetry
	Programs  []ProgramSlot
}

// DecodeStatus decodes telemetry and enabled program slots.
//
// Missing fields take their defaults: s14 99, numeric readings 0, relays
// off, program type 0, name "Program n", control value 0. Any malformed
// field fails the whole decode with ErrMalformedField.
func DecodeStatus(f Fields) (DecodedStatus, error) {
	var (
		out DecodedStatus
		err error
	)

	raw, err := f.IntOr(FieldActiveProgram, noActiveProgram)
	if err != nil {
		return DecodedStatus{}, err
	}
	if raw != noActiveProgram {
		active := raw + 1
		out.Telemetry.ActivePumpProgram = &active
	}

	if out.Telemetry.MotorSpeed, err = f.TenthsOr(FieldMotorSpeed, 0); err != nil {
		return DecodedStatus{}, err
	}
	if out.Telemetry.FlowRate, err = f.TenthsOr(FieldFlowRate, 0); err != nil {
		return DecodedStatus{}, err
	}
	if out.Telemetry.Power, err = f.IntOr(FieldPower, 0); err != nil {
		return DecodedStatus{}, err
	}
	if out.Telemetry.Relay1On, err = f.FlagOr(FieldRelay1, false); err != nil {
		return DecodedStatus{}, err
	}
	if out.Telemetry.Relay2On, err = f.FlagOr(FieldRelay2, false); err != nil {
		return DecodedStatus{}, err
	}

	for n := device.MinProgramID; n <= device.MaxProgramID; n++ {
		if f.StringOr(programField(n, 13), "") != "1" {
			continue
		}
		typ, err := f.IntOr(programField(n, 5), 0)
		if err != nil {
			return DecodedStatus{}, err
		}
		control, err := f.IntOr(programField(n, 10), 0)
		if err != nil {
			return DecodedStatus{}, err
		}
		out.Programs = append(out.Programs, ProgramSlot{
			ID:           n,
			Name:         f.StringOr(programField(n, 2), fmt.Sprintf("Program %d", n)),
			Type:         device.ProgramType(typ),
			ControlValue: control,
		})
	}

	return out, nil
}
