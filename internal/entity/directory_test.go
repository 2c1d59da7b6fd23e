package entity

import (
	"errors"
	"testing"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
)

func (f *fakeCommander) Devices() []device.Device {
	return f.reg.ListDevices()
}

func newDirectory(t *testing.T) (*Directory, *fakeCommander) {
	t.Helper()
	mapper, err := program.New(config.Default().Programs)
	if err != nil {
		t.Fatalf("program.New() error = %v", err)
	}
	cmd := newFakeCommander(t)
	sc := &fakeSafety{percentage: 30}
	dir, err := NewDirectory(cmd, mapper, func(id string) (Safety, error) {
		if id != testDevice {
			return nil, errors.New("no coordinator")
		}
		return sc, nil
	})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	return dir, cmd
}

func TestNewDirectory_Validation(t *testing.T) {
	mapper, _ := program.New(config.Default().Programs)
	noSafety := func(string) (Safety, error) { return nil, nil }

	if _, err := NewDirectory(nil, mapper, noSafety); err == nil {
		t.Error("NewDirectory(nil source) error = nil, want error")
	}
	if _, err := NewDirectory(newFakeCommander(t), nil, noSafety); err == nil {
		t.Error("NewDirectory(nil mapper) error = nil, want error")
	}
	if _, err := NewDirectory(newFakeCommander(t), mapper, nil); err == nil {
		t.Error("NewDirectory(nil safety) error = nil, want error")
	}
}

func TestDirectory_Entity(t *testing.T) {
	dir, _ := newDirectory(t)

	e, err := dir.Entity(testDevice, KeyPump)
	if err != nil {
		t.Fatalf("Entity() error = %v", err)
	}
	if st := e.State(); !st.On || *st.Percentage != 30 {
		t.Errorf("pump state on=%t percentage=%v, want on at 30", st.On, st.Percentage)
	}

	if _, err := dir.Entity(testDevice, "nope"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("Entity(nope) error = %v, want ErrUnknownEntity", err)
	}
	if _, err := dir.Entity("missing", KeyPump); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Entity(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDirectory_PicksUpNewSlots(t *testing.T) {
	dir, cmd := newDirectory(t)

	if _, err := dir.Entity(testDevice, ProgramKey(7)); err == nil {
		t.Fatal("program_7 exists before discovery")
	}
	if err := cmd.reg.UpsertProgram(testDevice, 7, "Spa", device.ProgramTypeManual, device.ControlInactive); err != nil {
		t.Fatalf("UpsertProgram() error = %v", err)
	}
	if _, err := dir.Entity(testDevice, ProgramKey(7)); err != nil {
		t.Errorf("Entity(program_7) error = %v", err)
	}
}

func TestDirectory_All(t *testing.T) {
	dir, cmd := newDirectory(t)
	if err := cmd.reg.Replace([]device.Device{{ID: testDevice}, {ID: "orphan"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	sets := dir.All()
	if len(sets) != 1 || sets[0].DeviceID() != testDevice {
		t.Errorf("All() returned %d sets, want only %s", len(sets), testDevice)
	}
}
