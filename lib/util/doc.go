// Package util provides an unbounded lock-free multi-producer single-consumer
// queue.
//
// The transports use it to funnel push frames read by any number of
// connection goroutines into the single push stream of a client, without ever
// blocking a connection reader on a slow consumer.
package util
