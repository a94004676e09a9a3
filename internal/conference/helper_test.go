package conference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jiyeyuran/mediasoup-go"

	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

var fakeIdCounter uint64

func nextFakeId(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddUint64(&fakeIdCounter, 1))
}

// fakeEngine is an in-process stand-in for the media engine. It keeps
// enough wiring to exercise the close cascades: closing a transport
// force-closes the producers and consumers on it, and closing a
// producer notifies the consumers attached to it.
type fakeEngine struct {
	mu          sync.Mutex
	workers     []*fakeWorker
	failAfter   int
	workerCount int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failAfter: -1}
}

func (e *fakeEngine) NewWorker() (sfu.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failAfter >= 0 && e.workerCount >= e.failAfter {
		return nil, fmt.Errorf("worker spawn failed")
	}
	e.workerCount++

	worker := &fakeWorker{id: nextFakeId("worker")}
	e.workers = append(e.workers, worker)
	return worker, nil
}

type fakeWorker struct {
	mu          sync.Mutex
	id          string
	closed      bool
	routerErr   error
	routerDelay time.Duration
	died        []func(err error)
	routers     []*fakeRouter
}

func (w *fakeWorker) CreateRouter(ctx context.Context) (sfu.Router, error) {
	w.mu.Lock()
	delay, err := w.routerDelay, w.routerErr
	w.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	router := &fakeRouter{
		id:        nextFakeId("router"),
		producers: make(map[string]*fakeProducer),
	}

	w.mu.Lock()
	w.routers = append(w.routers, router)
	w.mu.Unlock()

	return router, nil
}

func (w *fakeWorker) OnDied(listener func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.died = append(w.died, listener)
}

func (w *fakeWorker) die(err error) {
	w.mu.Lock()
	listeners := append([]func(error){}, w.died...)
	w.mu.Unlock()

	for _, listener := range listeners {
		listener(err)
	}
}

func (w *fakeWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
}

func (w *fakeWorker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closed
}

type fakeRouter struct {
	mu           sync.Mutex
	id           string
	closed       bool
	transportErr error
	denyConsume  bool
	capabilities mediasoup.RtpCapabilities
	transports   []*fakeTransport
	producers    map[string]*fakeProducer
}

func (r *fakeRouter) RtpCapabilities() mediasoup.RtpCapabilities {
	return r.capabilities
}

func (r *fakeRouter) CreateWebRtcTransport(ctx context.Context) (sfu.WebRtcTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transportErr != nil {
		return nil, r.transportErr
	}

	transport := &fakeTransport{
		id:           nextFakeId("transport"),
		router:       r,
		consumerType: "simple",
	}
	r.transports = append(r.transports, transport)
	return transport, nil
}

func (r *fakeRouter) CanConsume(producerId string, rtpCapabilities mediasoup.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return !r.denyConsume
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	transports := append([]*fakeTransport{}, r.transports...)
	r.closed = true
	r.mu.Unlock()

	for _, transport := range transports {
		transport.Close()
	}
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

type fakeTransport struct {
	mu            sync.Mutex
	id            string
	router        *fakeRouter
	closed        bool
	connectErr    error
	produceErr    error
	consumeErr    error
	consumerType  string
	connectedDtls *mediasoup.DtlsParameters
	dtlsListeners []func(state string)
	producers     []*fakeProducer
	consumers     []*fakeConsumer
}

func (t *fakeTransport) Id() string { return t.id }

func (t *fakeTransport) IceParameters() mediasoup.IceParameters {
	return mediasoup.IceParameters{UsernameFragment: t.id + "-ufrag"}
}

func (t *fakeTransport) IceCandidates() []mediasoup.IceCandidate {
	return []mediasoup.IceCandidate{{Foundation: t.id + "-candidate"}}
}

func (t *fakeTransport) DtlsParameters() mediasoup.DtlsParameters {
	return mediasoup.DtlsParameters{Role: mediasoup.DtlsRole_Auto}
}

func (t *fakeTransport) Connect(ctx context.Context, dtlsParameters mediasoup.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connectErr != nil {
		return t.connectErr
	}
	t.connectedDtls = &dtlsParameters
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind mediasoup.MediaKind, rtpParameters mediasoup.RtpParameters) (sfu.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.produceErr != nil {
		return nil, t.produceErr
	}

	producer := &fakeProducer{id: nextFakeId("producer"), kind: kind}
	t.producers = append(t.producers, producer)

	t.router.mu.Lock()
	t.router.producers[producer.id] = producer
	t.router.mu.Unlock()

	return producer, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producerId string, rtpCapabilities mediasoup.RtpCapabilities) (sfu.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumeErr != nil {
		return nil, t.consumeErr
	}

	consumer := &fakeConsumer{
		id:         nextFakeId("consumer"),
		producerId: producerId,
		kind:       mediasoup.MediaKind_Video,
		typ:        t.consumerType,
	}
	t.consumers = append(t.consumers, consumer)

	t.router.mu.Lock()
	producer, ok := t.router.producers[producerId]
	t.router.mu.Unlock()
	if ok {
		producer.attach(consumer)
	}

	return consumer, nil
}

func (t *fakeTransport) OnDtlsStateChange(listener func(state string)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dtlsListeners = append(t.dtlsListeners, listener)
}

func (t *fakeTransport) changeDtlsState(state string) {
	t.mu.Lock()
	listeners := append([]func(string){}, t.dtlsListeners...)
	t.mu.Unlock()

	for _, listener := range listeners {
		listener(state)
	}
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := append([]*fakeProducer{}, t.producers...)
	consumers := append([]*fakeConsumer{}, t.consumers...)
	t.mu.Unlock()

	for _, producer := range producers {
		producer.closeByTransport()
	}
	for _, consumer := range consumers {
		consumer.closeByTransport()
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

type fakeProducer struct {
	mu                 sync.Mutex
	id                 string
	kind               mediasoup.MediaKind
	closed             bool
	transportListeners []func()
	consumers          []*fakeConsumer
}

func (p *fakeProducer) Id() string { return p.id }

func (p *fakeProducer) Kind() mediasoup.MediaKind { return p.kind }

func (p *fakeProducer) OnTransportClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transportListeners = append(p.transportListeners, fn)
}

func (p *fakeProducer) attach(consumer *fakeConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consumers = append(p.consumers, consumer)
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := append([]*fakeConsumer{}, p.consumers...)
	p.mu.Unlock()

	for _, consumer := range consumers {
		consumer.closeByProducer()
	}
}

func (p *fakeProducer) closeByTransport() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	listeners := append([]func(){}, p.transportListeners...)
	consumers := append([]*fakeConsumer{}, p.consumers...)
	p.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
	for _, consumer := range consumers {
		consumer.closeByProducer()
	}
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

type fakeConsumer struct {
	mu                 sync.Mutex
	id                 string
	producerId         string
	kind               mediasoup.MediaKind
	typ                string
	producerPaused     bool
	closed             bool
	preferredSpatial   uint8
	preferredTemporal  uint8
	layersSet          bool
	transportListeners []func()
	producerListeners  []func()
}

func (c *fakeConsumer) Id() string { return c.id }

func (c *fakeConsumer) Kind() mediasoup.MediaKind { return c.kind }

func (c *fakeConsumer) RtpParameters() mediasoup.RtpParameters { return mediasoup.RtpParameters{} }

func (c *fakeConsumer) Type() string { return c.typ }

func (c *fakeConsumer) ProducerPaused() bool { return c.producerPaused }

func (c *fakeConsumer) SetPreferredLayers(spatialLayer, temporalLayer uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preferredSpatial = spatialLayer
	c.preferredTemporal = temporalLayer
	c.layersSet = true
	return nil
}

func (c *fakeConsumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transportListeners = append(c.transportListeners, fn)
}

func (c *fakeConsumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.producerListeners = append(c.producerListeners, fn)
}

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

func (c *fakeConsumer) closeByTransport() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listeners := append([]func(){}, c.transportListeners...)
	c.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}

func (c *fakeConsumer) closeByProducer() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listeners := append([]func(){}, c.producerListeners...)
	c.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}

// fakeMessenger records every message handed to Send, keyed nowhere so
// tests can filter however they need.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]bool
}

type sentMessage struct {
	connectionId string
	message      Message
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{fail: make(map[string]bool)}
}

func (m *fakeMessenger) Send(connectionId string, message Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail[connectionId] {
		return fmt.Errorf("connection gone")
	}
	m.sent = append(m.sent, sentMessage{connectionId: connectionId, message: message})
	return nil
}

func (m *fakeMessenger) messages(connectionId string, eventType EventType) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Message
	for _, s := range m.sent {
		if s.connectionId == connectionId && s.message.Type == eventType {
			result = append(result, s.message)
		}
	}
	return result
}

func (m *fakeMessenger) count(eventType EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sent {
		if s.message.Type == eventType {
			n++
		}
	}
	return n
}
