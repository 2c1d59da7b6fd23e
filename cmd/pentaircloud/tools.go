package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nerrad567/pentair-cloud-core/internal/auth"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// printAPIKeyHash prints key and its hash. An empty key is replaced by a new
// random one.
func printAPIKeyHash(w io.Writer, key string) error {
	if key == "" {
		generated, err := auth.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating API key: %w", err)
		}
		key = generated
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return fmt.Errorf("hashing API key: %w", err)
	}
	fmt.Fprintf(w, "api_key: %s\n", key)
	fmt.Fprintf(w, "api_key_hash: %s\n", hash)
	return nil
}

// printPrograms lists the manual programs of each device, which are the ones
// the programs section of the configuration can map.
func printPrograms(w io.Writer, devices []device.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tPROGRAM\tPROGRAM NAME\tACTIVE")
	for _, d := range devices {
		for _, p := range d.Programs {
			if p.Type != device.ProgramTypeManual {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\n", d.ID, d.Name, p.ID, p.Name, p.ControlValue == device.ControlActive)
		}
	}
	return tw.Flush()
}
