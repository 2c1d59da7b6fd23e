// Package mqtt provides the broker connection used by the Pentair bridge.
//
// The Client wraps paho.mqtt.golang with:
//   - auto-reconnect and subscription restore,
//   - JSON and retained publish helpers,
//   - panic-safe message handlers,
//   - a retained online status and an offline Last Will on
//     {prefix}/system/status.
//
// Topics builds every topic of the hierarchy from the configured prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	t := client.Topics()
//	err = client.Subscribe(t.AllCommands(), 1, func(topic string, payload []byte) error {
//	    device, entity, _ := t.ParseCommand(topic)
//	    ...
//	})
package mqtt
