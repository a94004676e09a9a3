// Package sfu defines the contract between the conference coordination
// layer and the media engine. The engine performs all codec, ICE and
// DTLS negotiation; this layer only creates, connects and closes the
// handles it hands out.
package sfu

import (
	"context"
	"errors"

	"github.com/jiyeyuran/mediasoup-go"
)

var (
	// ErrEngineTimeout is returned when an engine call does not
	// complete within the configured call timeout.
	ErrEngineTimeout = errors.New("media engine call timed out")
)

// Engine creates media workers. One worker runs per CPU core and hosts
// the routers of the rooms assigned to it.
type Engine interface {
	NewWorker() (Worker, error)
}

// Worker is a single media processing unit.
type Worker interface {
	// CreateRouter creates a routing context with the engine's
	// configured media codecs.
	CreateRouter(ctx context.Context) (Router, error)

	// OnDied registers a listener invoked when the worker process
	// dies unexpectedly. Rooms bound to a dead worker are unusable.
	OnDied(listener func(err error))

	Close()
}

// Router is the per-room media negotiation context.
type Router interface {
	RtpCapabilities() mediasoup.RtpCapabilities

	CreateWebRtcTransport(ctx context.Context) (WebRtcTransport, error)

	// CanConsume reports whether an endpoint with the given
	// capabilities is able to consume the given producer.
	CanConsume(producerId string, rtpCapabilities mediasoup.RtpCapabilities) bool

	Close()
}

// WebRtcTransport is one ICE/DTLS connection endpoint between a peer
// and the router.
type WebRtcTransport interface {
	Id() string
	IceParameters() mediasoup.IceParameters
	IceCandidates() []mediasoup.IceCandidate
	DtlsParameters() mediasoup.DtlsParameters

	Connect(ctx context.Context, dtlsParameters mediasoup.DtlsParameters) error
	Produce(ctx context.Context, kind mediasoup.MediaKind, rtpParameters mediasoup.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerId string, rtpCapabilities mediasoup.RtpCapabilities) (Consumer, error)

	// OnDtlsStateChange registers a listener for DTLS state changes.
	// A "closed" state means the remote endpoint is gone.
	OnDtlsStateChange(listener func(state string))

	Close()
}

// Producer is one outbound media track registered with the router.
type Producer interface {
	Id() string
	Kind() mediasoup.MediaKind

	// OnTransportClose fires when the owning transport closes and the
	// engine force-closes the producer with it.
	OnTransportClose(listener func())

	Close()
}

// Consumer is one inbound view of a remote producer.
type Consumer interface {
	Id() string
	Kind() mediasoup.MediaKind
	RtpParameters() mediasoup.RtpParameters

	// Type is "simple", "simulcast", "svc" or "pipe".
	Type() string
	ProducerPaused() bool

	SetPreferredLayers(spatialLayer, temporalLayer uint8) error

	OnTransportClose(listener func())

	// OnProducerClose fires when the source producer closes; the
	// consumer is already closed by the engine at that point.
	OnProducerClose(listener func())

	Close()
}

// await bounds a blocking engine call with the context deadline. The
// engine call itself cannot be cancelled, but the caller stops waiting
// and treats the operation as failed.
func await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrEngineTimeout
		}
		return ctx.Err()
	}
}
