// Package pubsub provides a publish-subscribe interface used by LogBus to
// fan out live log lines, run status changes and alert events to
// WebSocket subscribers.
//
// # Overview
//
// Two implementations share the PubSub interface: MemoryPubSub for
// single-process deployments and tests, and RedisPubSub for multi-process
// hub deployments where logs published by a Worker must reach subscribers
// connected to a different hub process.
//
// # Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	ps := pubsub.NewRedisPubSub(redisClient)
//
//	err := ps.Publish(ctx, pubsub.RunTopic(runID), &pubsub.RunLogEvent{
//		RunID:   runID,
//		Message: "started",
//	})
//
//	ch, unsub := ps.Subscribe(ctx, pubsub.RunTopic(runID))
//	defer unsub()
//	for msg := range ch {
//		var event pubsub.RunLogEvent
//		json.Unmarshal(msg, &event)
//	}
//
// # Topics
//
//   - run:{run_id} - log lines and status transitions for one run
//   - alert:{robot_id} - alert events for one robot (sentinel id for global alerts)
package pubsub
