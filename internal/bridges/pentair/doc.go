// Package pentair bridges the Pentair cloud core to an MQTT broker.
//
// The bridge publishes retained device and entity state, accepts entity
// commands and answers them with acknowledgements, forwards safety
// notifications and feeds the pool thermostats from an external
// temperature sensor topic.
//
//	┌─────────────────┐          ┌─────────────────┐   HTTPS
//	│  Home automation│   MQTT   │  Pentair Bridge │◄────────► Pentair cloud
//	│      host       │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
// See mqtt.Topics for the full hierarchy. Commands are JSON:
//
//	pentaircloud/command/{device}/pump    {"action":"set_percentage","percentage":75}
//	pentaircloud/command/{device}/heater  {"action":"turn_on"}
//	pentaircloud/command/{device}/climate {"action":"set_temperature","temperature":84}
//
// The bare payloads "on", "off" and a number are accepted as shorthand.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package pentair
