// Package mqtt provides MQTT client connectivity for swetrack-sync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing device state and coordinator status
//   - Subscribing to the refresh command topic
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// All topics live under the configured prefix (default "swetrack"):
//
//	{prefix}/device/{id}/state     retained device record, empty payload on removal
//	{prefix}/coordinator/status    retained poller status
//	{prefix}/system/status         retained online/offline (LWT)
//	{prefix}/command/refresh       inbound manual refresh request
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishRetained(topics.DeviceState("1234"), payload)
//
// Tests that need a broker are behind the "integration" build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
