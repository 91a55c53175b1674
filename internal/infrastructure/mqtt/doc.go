// Package mqtt connects the Homismart bridge to a local MQTT broker.
//
// It wraps paho.mqtt.golang with connection management, validated
// publishing, tracked subscriptions that survive reconnects, and an
// availability topic guarded by a last will:
//
//	{prefix}/status              retained online/offline
//	{prefix}/session             retained remote session state
//	{prefix}/device/{id}/state   retained device snapshot
//	{prefix}/hub/{id}/state      retained hub snapshot
//	{prefix}/device/{id}/set     commands from local automation
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Broker credentials come from configuration; use TLS for anything beyond
// a loopback broker.
package mqtt
