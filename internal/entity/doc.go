// Package entity exposes a device's programs as user-facing entities.
//
// Every entity is the same Entity type configured by a Descriptor. The kind
// decides which actions are valid; the policy decides whether a command goes
// straight to the hub or through the safety coordinator.
//
//	pump        fan     percentage and preset modes, safety routed
//	pump_speed  number  closest of 0/30/50/75/100, safety routed
//	heater      switch  pump-start sequence, safety routed
//	light       light   relay_lights program
//	program_N   program raw on/off for every discovered slot
package entity
