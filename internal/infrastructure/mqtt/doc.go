// Package mqtt provides the station's publish channel over an MQTT broker.
//
// The station publishes one message per change event on a topic derived
// from the object path; remote clients subscribe to the subtree they care
// about. The broker decouples the station from however many observers are
// listening:
//
//	station → Broadcaster → MQTT broker → client.Subscriber(s)
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload-size checks
//   - Wildcard subscriptions, restored after reconnects
//   - Last Will and Testament so observers notice a dead station
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS=true) outside an isolated lab network
//   - Change events may carry instrument readings; restrict the topic
//     prefix with broker ACLs
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.Broadcast.TopicPrefix, StationID: cfg.Station.ID}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.EventsUnder("d1"), 1,
//	    func(topic string, payload []byte) error {
//	        path, _ := topics.PathFromTopic(topic)
//	        fmt.Println(path, string(payload))
//	        return nil
//	    })
package mqtt
