// Package broker is the narrow message-queue interface the router publishes
// to and workers consume from.
//
// Each worker consumes exactly one dedicated queue named "<worker>.dq". A
// queue delivers messages in publish order, which together with
// per-resource routing gives first-in-first-out execution per resource.
//
// Two adapters are provided: [Memory], an in-process queue for tests and
// single-process development, and [Redis], which stores each queue as a
// Redis list (RPUSH to publish, BLPOP to consume). Messages on Redis are
// serialized by a [Codec]: JSON by default, or MessagePack.
package broker
