// ABOUTME: Streaming channel package
// ABOUTME: Bounded frame queues with backpressure between pipeline stages
// Package stream provides the producer/consumer channel used between a
// decoder or capture device and the stage that consumes its PCM.
//
// A RingBuffer is single-producer/single-consumer. Fan-out or fan-in is
// built by composing several buffers, never by sharing one.
//
// Example:
//
//	rb := stream.NewRingBuffer(32, stream.ImportPolicy())
//	go func() {
//	    var seq stream.Sequencer
//	    for _, buf := range chunks {
//	        rb.Push(ctx, seq.Stamp(buf))
//	    }
//	    rb.Close()
//	}()
//	for {
//	    frame, err := rb.Pop(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	}
package stream
