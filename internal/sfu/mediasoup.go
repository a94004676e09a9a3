package sfu

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/mediasoup-go"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
)

// Options configures the mediasoup-backed engine. MediaCodecs and
// ListenIps apply to every router and transport the engine creates.
type Options struct {
	WorkerLogLevel                  string
	WorkerLogTags                   []string
	RtcMinPort                      uint16
	RtcMaxPort                      uint16
	MediaCodecs                     []*mediasoup.RtpCodecCapability
	ListenIps                       []mediasoup.TransportListenIp
	MaxIncomingBitrate              int
	InitialAvailableOutgoingBitrate uint32

	// CallTimeout bounds every engine call. Zero means 10s.
	CallTimeout time.Duration
}

func (o Options) callTimeout() time.Duration {
	if o.CallTimeout > 0 {
		return o.CallTimeout
	}
	return 10 * time.Second
}

// NewMediasoupEngine creates an Engine backed by mediasoup worker
// subprocesses. The worker binary is resolved by mediasoup-go
// (MEDIASOUP_WORKER_BIN or the bundled download).
func NewMediasoupEngine(options Options) Engine {
	return &mediasoupEngine{
		options: options,
		logger:  logger.New("MediasoupEngine"),
	}
}

type mediasoupEngine struct {
	options Options
	logger  logr.Logger
}

func (e *mediasoupEngine) NewWorker() (Worker, error) {
	worker, err := mediasoup.NewWorker(func(settings *mediasoup.WorkerSettings) {
		if len(e.options.WorkerLogLevel) > 0 {
			settings.LogLevel = mediasoup.WorkerLogLevel(e.options.WorkerLogLevel)
		}
		for _, tag := range e.options.WorkerLogTags {
			settings.LogTags = append(settings.LogTags, mediasoup.WorkerLogTag(tag))
		}
		if e.options.RtcMinPort > 0 {
			settings.RtcMinPort = e.options.RtcMinPort
		}
		if e.options.RtcMaxPort > 0 {
			settings.RtcMaxPort = e.options.RtcMaxPort
		}
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("worker started", "pid", worker.Pid())

	return &mediasoupWorker{worker: worker, options: e.options}, nil
}

type mediasoupWorker struct {
	worker  *mediasoup.Worker
	options Options
}

func (w *mediasoupWorker) CreateRouter(ctx context.Context) (Router, error) {
	ctx, cancel := withCallTimeout(ctx, w.options)
	defer cancel()

	var router *mediasoup.Router

	err := await(ctx, func() (err error) {
		router, err = w.worker.CreateRouter(mediasoup.RouterOptions{
			MediaCodecs: w.options.MediaCodecs,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &mediasoupRouter{router: router, options: w.options}, nil
}

func (w *mediasoupWorker) OnDied(listener func(err error)) {
	w.worker.On("died", listener)
}

func (w *mediasoupWorker) Close() {
	w.worker.Close()
}

type mediasoupRouter struct {
	router  *mediasoup.Router
	options Options
}

func (r *mediasoupRouter) RtpCapabilities() mediasoup.RtpCapabilities {
	return r.router.RtpCapabilities()
}

func (r *mediasoupRouter) CreateWebRtcTransport(ctx context.Context) (WebRtcTransport, error) {
	ctx, cancel := withCallTimeout(ctx, r.options)
	defer cancel()

	var transport *mediasoup.WebRtcTransport

	err := await(ctx, func() (err error) {
		transport, err = r.router.CreateWebRtcTransport(mediasoup.WebRtcTransportOptions{
			ListenIps:                       r.options.ListenIps,
			InitialAvailableOutgoingBitrate: r.options.InitialAvailableOutgoingBitrate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if r.options.MaxIncomingBitrate > 0 {
		if err := transport.SetMaxIncomingBitrate(r.options.MaxIncomingBitrate); err != nil {
			transport.Close()
			return nil, err
		}
	}

	return &mediasoupTransport{transport: transport, options: r.options}, nil
}

func (r *mediasoupRouter) CanConsume(producerId string, rtpCapabilities mediasoup.RtpCapabilities) bool {
	return r.router.CanConsume(producerId, rtpCapabilities)
}

func (r *mediasoupRouter) Close() {
	r.router.Close()
}

type mediasoupTransport struct {
	transport *mediasoup.WebRtcTransport
	options   Options
}

func (t *mediasoupTransport) Id() string {
	return t.transport.Id()
}

func (t *mediasoupTransport) IceParameters() mediasoup.IceParameters {
	return t.transport.IceParameters()
}

func (t *mediasoupTransport) IceCandidates() []mediasoup.IceCandidate {
	return t.transport.IceCandidates()
}

func (t *mediasoupTransport) DtlsParameters() mediasoup.DtlsParameters {
	return t.transport.DtlsParameters()
}

func (t *mediasoupTransport) Connect(ctx context.Context, dtlsParameters mediasoup.DtlsParameters) error {
	ctx, cancel := withCallTimeout(ctx, t.options)
	defer cancel()

	return await(ctx, func() error {
		return t.transport.Connect(mediasoup.TransportConnectOptions{
			DtlsParameters: &dtlsParameters,
		})
	})
}

func (t *mediasoupTransport) Produce(ctx context.Context, kind mediasoup.MediaKind, rtpParameters mediasoup.RtpParameters) (Producer, error) {
	ctx, cancel := withCallTimeout(ctx, t.options)
	defer cancel()

	var producer *mediasoup.Producer

	err := await(ctx, func() (err error) {
		producer, err = t.transport.Produce(mediasoup.ProducerOptions{
			Kind:          kind,
			RtpParameters: rtpParameters,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &mediasoupProducer{producer: producer}, nil
}

func (t *mediasoupTransport) Consume(ctx context.Context, producerId string, rtpCapabilities mediasoup.RtpCapabilities) (Consumer, error) {
	ctx, cancel := withCallTimeout(ctx, t.options)
	defer cancel()

	var consumer *mediasoup.Consumer

	err := await(ctx, func() (err error) {
		consumer, err = t.transport.Consume(mediasoup.ConsumerOptions{
			ProducerId:      producerId,
			RtpCapabilities: rtpCapabilities,
			Paused:          false,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &mediasoupConsumer{consumer: consumer}, nil
}

func (t *mediasoupTransport) OnDtlsStateChange(listener func(state string)) {
	t.transport.On("dtlsstatechange", func(state mediasoup.DtlsState) {
		listener(string(state))
	})
}

func (t *mediasoupTransport) Close() {
	t.transport.Close()
}

type mediasoupProducer struct {
	producer *mediasoup.Producer
}

func (p *mediasoupProducer) Id() string {
	return p.producer.Id()
}

func (p *mediasoupProducer) Kind() mediasoup.MediaKind {
	return p.producer.Kind()
}

func (p *mediasoupProducer) OnTransportClose(listener func()) {
	p.producer.On("transportclose", listener)
}

func (p *mediasoupProducer) Close() {
	p.producer.Close()
}

type mediasoupConsumer struct {
	consumer *mediasoup.Consumer
}

func (c *mediasoupConsumer) Id() string {
	return c.consumer.Id()
}

func (c *mediasoupConsumer) Kind() mediasoup.MediaKind {
	return c.consumer.Kind()
}

func (c *mediasoupConsumer) RtpParameters() mediasoup.RtpParameters {
	return c.consumer.RtpParameters()
}

func (c *mediasoupConsumer) Type() string {
	return string(c.consumer.Type())
}

func (c *mediasoupConsumer) ProducerPaused() bool {
	return c.consumer.ProducerPaused()
}

func (c *mediasoupConsumer) SetPreferredLayers(spatialLayer, temporalLayer uint8) error {
	return c.consumer.SetPreferredLayers(mediasoup.ConsumerLayers{
		SpatialLayer:  spatialLayer,
		TemporalLayer: temporalLayer,
	})
}

func (c *mediasoupConsumer) OnTransportClose(listener func()) {
	c.consumer.On("transportclose", listener)
}

func (c *mediasoupConsumer) OnProducerClose(listener func()) {
	c.consumer.On("producerclose", listener)
}

func (c *mediasoupConsumer) Close() {
	c.consumer.Close()
}

func withCallTimeout(ctx context.Context, options Options) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, options.callTimeout())
}
