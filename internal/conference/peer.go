package conference

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/mediasoup-go"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

// Peer owns the media resources of one connection: its transports and
// the producers and consumers created on them. Nothing outside the
// Peer touches those maps; Room and Gateway go through Peer methods.
//
// Observer events:
//   - "producerclosed" (producerId string) after a producer left the
//     owned set because its transport was force closed
//   - "consumerclosed" (consumerId string) after a consumer left the
//     owned set
type Peer struct {
	mu         sync.Mutex
	id         string
	name       string
	transports map[string]sfu.WebRtcTransport
	producers  map[string]sfu.Producer
	consumers  map[string]sfu.Consumer
	observer   IEventEmitter
	logger     logr.Logger
}

// NewPeer creates a peer for the given connection id and display name.
func NewPeer(connectionId, name string) *Peer {
	return &Peer{
		id:         connectionId,
		name:       name,
		transports: make(map[string]sfu.WebRtcTransport),
		producers:  make(map[string]sfu.Producer),
		consumers:  make(map[string]sfu.Consumer),
		observer:   NewEventEmitter(),
		logger:     logger.New("Peer").WithValues("connectionId", connectionId, "name", name),
	}
}

func (p *Peer) Id() string {
	return p.id
}

func (p *Peer) Name() string {
	return p.name
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{Id: p.id, Name: p.name}
}

func (p *Peer) Observer() IEventEmitter {
	return p.observer
}

// AddTransport registers a transport under its engine assigned id.
func (p *Peer) AddTransport(transport sfu.WebRtcTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transports[transport.Id()] = transport
}

// ConnectTransport finishes the DTLS handshake of an owned transport.
func (p *Peer) ConnectTransport(ctx context.Context, transportId string, dtlsParameters mediasoup.DtlsParameters) error {
	transport, ok := p.transport(transportId)
	if !ok {
		p.logger.V(1).Info("connect requested for unknown transport", "transportId", transportId)
		return ErrTransportNotFound
	}

	return transport.Connect(ctx, dtlsParameters)
}

// CreateProducer creates an outbound track on an owned transport and
// installs the close observer that keeps the owned set consistent when
// the engine force closes the producer with its transport.
func (p *Peer) CreateProducer(ctx context.Context, transportId string, kind mediasoup.MediaKind, rtpParameters mediasoup.RtpParameters) (sfu.Producer, error) {
	transport, ok := p.transport(transportId)
	if !ok {
		return nil, ErrTransportNotFound
	}

	producer, err := transport.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.producers[producer.Id()] = producer
	p.mu.Unlock()

	producer.OnTransportClose(func() {
		p.logger.Info("producer transport closed", "producerId", producer.Id())

		p.mu.Lock()
		_, owned := p.producers[producer.Id()]
		delete(p.producers, producer.Id())
		p.mu.Unlock()

		if owned {
			p.observer.SafeEmit("producerclosed", producer.Id())
		}
	})

	return producer, nil
}

// CreateConsumer consumes a remote producer on an owned transport.
// Simulcast consumers start at the highest spatial and temporal layer;
// quality is preferred over adaptive ramp-up by default.
func (p *Peer) CreateConsumer(ctx context.Context, transportId, producerId string, rtpCapabilities mediasoup.RtpCapabilities) (sfu.Consumer, error) {
	transport, ok := p.transport(transportId)
	if !ok {
		p.logger.V(1).Info("consume requested for unknown transport", "transportId", transportId)
		return nil, ErrTransportNotFound
	}

	consumer, err := transport.Consume(ctx, producerId, rtpCapabilities)
	if err != nil {
		return nil, err
	}

	if consumer.Type() == "simulcast" {
		if err := consumer.SetPreferredLayers(2, 2); err != nil {
			p.logger.Error(err, "set preferred layers failed", "consumerId", consumer.Id())
		}
	}

	p.mu.Lock()
	p.consumers[consumer.Id()] = consumer
	p.mu.Unlock()

	remove := func() {
		p.mu.Lock()
		_, owned := p.consumers[consumer.Id()]
		delete(p.consumers, consumer.Id())
		p.mu.Unlock()

		if owned {
			p.observer.SafeEmit("consumerclosed", consumer.Id())
		}
	}

	consumer.OnTransportClose(remove)
	consumer.OnProducerClose(remove)

	return consumer, nil
}

// CloseProducer closes and forgets an owned producer. It tolerates an
// unknown id and reports whether a producer was actually closed so the
// caller broadcasts at most once.
func (p *Peer) CloseProducer(producerId string) bool {
	p.mu.Lock()
	producer, ok := p.producers[producerId]
	delete(p.producers, producerId)
	p.mu.Unlock()

	if !ok {
		p.logger.V(1).Info("close requested for unknown producer", "producerId", producerId)
		return false
	}

	producer.Close()

	return true
}

// ProducerIds returns a snapshot of the owned producer ids.
func (p *Peer) ProducerIds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.producers))
	for id := range p.producers {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every owned transport. The engine cascades the closure
// to the producers and consumers living on them.
func (p *Peer) Close() {
	p.mu.Lock()
	transports := make([]sfu.WebRtcTransport, 0, len(p.transports))
	for _, transport := range p.transports {
		transports = append(transports, transport)
	}
	p.transports = make(map[string]sfu.WebRtcTransport)
	p.mu.Unlock()

	for _, transport := range transports {
		transport.Close()
	}
}

func (p *Peer) transport(transportId string) (sfu.WebRtcTransport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	transport, ok := p.transports[transportId]
	return transport, ok
}
