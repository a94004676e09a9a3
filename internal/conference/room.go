package conference

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/mediasoup-go"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

// Messenger delivers a message to one live connection. The Gateway
// implements it; Room uses it for fan-out without knowing about
// websockets.
type Messenger interface {
	Send(connectionId string, message Message) error
}

// Room owns one conference: the router created on its assigned worker
// and the registry of joined peers. All per-room media operations go
// through the Room, which delegates resource ownership to the Peers.
//
// The router is created asynchronously; operations that need it return
// ErrRouterNotReady until creation finishes.
//
// Observer events: "routerready", "peerjoined" (PeerInfo), "peerleft"
// (PeerInfo), "close".
type Room struct {
	mu        sync.RWMutex
	id        string
	worker    sfu.Worker
	router    sfu.Router
	peers     map[string]*Peer
	messenger Messenger
	observer  IEventEmitter
	closed    bool
	logger    logr.Logger
}

// NewRoom creates a room and starts router creation against the given
// worker.
func NewRoom(id string, worker sfu.Worker, messenger Messenger) *Room {
	r := &Room{
		id:        id,
		worker:    worker,
		peers:     make(map[string]*Peer),
		messenger: messenger,
		observer:  NewEventEmitter(),
		logger:    logger.New("Room").WithValues("roomId", id),
	}

	go r.createRouter()

	return r
}

func (r *Room) createRouter() {
	router, err := r.worker.CreateRouter(context.Background())
	if err != nil {
		r.logger.Error(err, "router creation failed")
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		router.Close()
		return
	}
	r.router = router
	r.mu.Unlock()

	r.logger.Info("router ready")
	r.observer.SafeEmit("routerready")
}

func (r *Room) Id() string {
	return r.id
}

func (r *Room) Observer() IEventEmitter {
	return r.observer
}

// CreatePeer registers a peer for the connection. A duplicate join
// from a retried attempt leaves the existing peer untouched. Joining a
// room that already closed fails with ErrRoomClosed; callers hold room
// references across lock boundaries, so a closed room can still be
// reachable for a moment.
func (r *Room) CreatePeer(name, connectionId string) (*Peer, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRoomClosed
	}
	if peer, ok := r.peers[connectionId]; ok {
		r.mu.Unlock()
		return peer, false, nil
	}

	peer := NewPeer(connectionId, name)
	r.peers[connectionId] = peer
	r.mu.Unlock()

	// a producer force closed by its transport is announced to the
	// rest of the room, same as an explicit close
	peer.Observer().On("producerclosed", func(args ...interface{}) {
		producerId, _ := args[0].(string)
		r.Broadcast(connectionId, EventProducerClosed, ProducerContainer{
			ProducerId: producerId,
			UserId:     connectionId,
		})
	})

	r.observer.SafeEmit("peerjoined", peer.Info())

	return peer, true, nil
}

// RemovePeer removes and returns the peer of the connection.
func (r *Room) RemovePeer(connectionId string) (*Peer, bool) {
	r.mu.Lock()
	peer, ok := r.peers[connectionId]
	delete(r.peers, connectionId)
	r.mu.Unlock()

	if ok {
		r.observer.SafeEmit("peerleft", peer.Info())
	}

	return peer, ok
}

// Peer returns the peer of the connection.
func (r *Room) Peer(connectionId string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[connectionId]
	return peer, ok
}

// Peers returns a snapshot of the identities of the joined peers.
func (r *Room) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]PeerInfo, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer.Info())
	}
	return peers
}

// Empty reports whether the room has no peers left.
func (r *Room) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers) == 0
}

// RouterRtpCapabilities returns the router's negotiated capability
// set, or ErrRouterNotReady while construction is still in flight.
func (r *Room) RouterRtpCapabilities() (mediasoup.RtpCapabilities, error) {
	router, err := r.readyRouter()
	if err != nil {
		return mediasoup.RtpCapabilities{}, err
	}

	return router.RtpCapabilities(), nil
}

// CreateWebRtcTransport creates a transport for the connection's peer
// and returns the parameters the client needs for its local mirror.
func (r *Room) CreateWebRtcTransport(ctx context.Context, connectionId string) (WebRtcTransportParams, error) {
	router, err := r.readyRouter()
	if err != nil {
		return WebRtcTransportParams{}, err
	}
	if _, ok := r.Peer(connectionId); !ok {
		return WebRtcTransportParams{}, ErrPeerNotFound
	}

	transport, err := router.CreateWebRtcTransport(ctx)
	if err != nil {
		return WebRtcTransportParams{}, err
	}

	transport.OnDtlsStateChange(func(state string) {
		if state == "closed" {
			r.logger.Info("transport dtls closed", "transportId", transport.Id(), "connectionId", connectionId)
			transport.Close()
		}
	})

	// the peer may have left while the engine was working
	peer, ok := r.Peer(connectionId)
	if !ok {
		transport.Close()
		return WebRtcTransportParams{}, ErrPeerNotFound
	}
	peer.AddTransport(transport)

	return WebRtcTransportParams{
		Id:             transport.Id(),
		IceParameters:  transport.IceParameters(),
		IceCandidates:  transport.IceCandidates(),
		DtlsParameters: transport.DtlsParameters(),
	}, nil
}

// ConnectPeerTransport completes the DTLS handshake for one of the
// peer's transports.
func (r *Room) ConnectPeerTransport(ctx context.Context, connectionId, transportId string, dtlsParameters mediasoup.DtlsParameters) error {
	peer, ok := r.Peer(connectionId)
	if !ok {
		return ErrPeerNotFound
	}

	return peer.ConnectTransport(ctx, transportId, dtlsParameters)
}

// ProducerList flattens every producer in the room. A newly joined
// peer consumes this list to catch up with the existing media.
func (r *Room) ProducerList() []ProducerContainer {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	r.mu.RUnlock()

	producers := []ProducerContainer{}
	for _, peer := range peers {
		for _, producerId := range peer.ProducerIds() {
			producers = append(producers, ProducerContainer{
				ProducerId: producerId,
				UserId:     peer.Id(),
			})
		}
	}
	return producers
}

// Produce creates a producer for the connection's peer and announces
// it to every other peer. The broadcast happens only after the
// producer is registered, so no peer ever learns about a producer it
// cannot consume yet.
func (r *Room) Produce(ctx context.Context, connectionId, transportId string, kind mediasoup.MediaKind, rtpParameters mediasoup.RtpParameters) (string, error) {
	if _, err := r.readyRouter(); err != nil {
		return "", err
	}

	peer, ok := r.Peer(connectionId)
	if !ok {
		return "", ErrPeerNotFound
	}

	producer, err := peer.CreateProducer(ctx, transportId, kind, rtpParameters)
	if err != nil {
		return "", err
	}

	if _, ok := r.Peer(connectionId); !ok {
		// the peer left while the engine was producing; its transports
		// are closed already or about to be
		producer.Close()
		return "", ErrPeerNotFound
	}

	r.Broadcast(connectionId, EventNewProducers, []ProducerContainer{{
		ProducerId: producer.Id(),
		UserId:     connectionId,
	}})

	return producer.Id(), nil
}

// Consume creates a consumer of the given producer for the
// connection's peer. The router's compatibility gate is checked first;
// an incompatible request is refused without touching the peer.
//
// When the source producer later closes, the consumer record is
// removed from the peer before the owning connection is notified.
func (r *Room) Consume(ctx context.Context, connectionId, transportId, producerId string, rtpCapabilities mediasoup.RtpCapabilities) (ConsumerParams, error) {
	router, err := r.readyRouter()
	if err != nil {
		return ConsumerParams{}, err
	}

	if !r.hasProducer(producerId) {
		return ConsumerParams{}, ErrProducerNotFound
	}

	if !router.CanConsume(producerId, rtpCapabilities) {
		r.logger.V(1).Info("capabilities cannot consume producer",
			"connectionId", connectionId, "producerId", producerId)
		return ConsumerParams{}, ErrCannotConsume
	}

	peer, ok := r.Peer(connectionId)
	if !ok {
		return ConsumerParams{}, ErrPeerNotFound
	}

	consumer, err := peer.CreateConsumer(ctx, transportId, producerId, rtpCapabilities)
	if err != nil {
		return ConsumerParams{}, err
	}

	// the peer removes its record first (its listener was registered
	// inside CreateConsumer); this one only notifies the client
	consumer.OnProducerClose(func() {
		message, err := NewMessage(EventConsumerClosed, 0, ConsumerClosedPayload{
			ConsumerId: consumer.Id(),
		})
		if err != nil {
			return
		}
		if err := r.messenger.Send(connectionId, message); err != nil {
			r.logger.V(1).Info("consumer closed notification dropped",
				"connectionId", connectionId, "consumerId", consumer.Id())
		}
	})

	return ConsumerParams{
		Id:             consumer.Id(),
		ProducerId:     producerId,
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	}, nil
}

// CloseProducer closes one of the peer's producers and announces the
// closure room wide. A repeated close is recognized and broadcast at
// most once.
func (r *Room) CloseProducer(connectionId, producerId string) error {
	peer, ok := r.Peer(connectionId)
	if !ok {
		return ErrPeerNotFound
	}

	if peer.CloseProducer(producerId) {
		r.Broadcast(connectionId, EventProducerClosed, ProducerContainer{
			ProducerId: producerId,
			UserId:     connectionId,
		})
	}

	return nil
}

// Broadcast sends an event to every connection in the room except the
// excluded one. Pass an empty id to reach everyone.
func (r *Room) Broadcast(excludeConnectionId string, eventType EventType, payload interface{}) {
	message, err := NewMessage(eventType, 0, payload)
	if err != nil {
		r.logger.Error(err, "broadcast payload marshal failed", "event", eventType)
		return
	}

	r.mu.RLock()
	connectionIds := make([]string, 0, len(r.peers))
	for connectionId := range r.peers {
		if connectionId != excludeConnectionId {
			connectionIds = append(connectionIds, connectionId)
		}
	}
	r.mu.RUnlock()

	for _, connectionId := range connectionIds {
		if err := r.messenger.Send(connectionId, message); err != nil {
			r.logger.V(1).Info("broadcast delivery failed",
				"connectionId", connectionId, "event", eventType)
		}
	}
}

// Close tears the room down: every remaining peer is closed, then the
// router. Rooms are normally closed empty; closing with peers still
// joined happens on shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	r.peers = make(map[string]*Peer)
	router := r.router
	r.mu.Unlock()

	for _, peer := range peers {
		peer.Close()
	}
	if router != nil {
		router.Close()
	}

	r.observer.SafeEmit("close")
	r.logger.Info("room closed")
}

func (r *Room) hasProducer(producerId string) bool {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	r.mu.RUnlock()

	for _, peer := range peers {
		for _, id := range peer.ProducerIds() {
			if id == producerId {
				return true
			}
		}
	}
	return false
}

func (r *Room) readyRouter() (sfu.Router, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrRoomClosed
	}
	if r.router == nil {
		return nil, ErrRouterNotReady
	}
	return r.router, nil
}
