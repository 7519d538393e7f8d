// Package mqtt publishes poll cycles to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Cycle publishing as JSON or MessagePack
//
// # Topics
//
// With the default prefix "lakeshore":
//
//	lakeshore/cycle               every cycle (not retained)
//	lakeshore/readings/<source>   latest readings per source (retained)
//	lakeshore/system/status       online/offline status and LWT (retained)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub, err := mqtt.NewCyclePublisher(client, cfg.MQTT)
//	// pub is a scheduler.Sink
package mqtt
