package conference

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
)

const (
	maxMessageSize = 1 << 20
	writeTimeout   = 10 * time.Second
	requestTimeout = 15 * time.Second
	pingInterval   = 20 * time.Second
	pongWait       = 45 * time.Second
)

// Gateway terminates the signaling websocket. It assigns every
// connection an identity, validates each request against room and peer
// state, invokes Room and Peer operations, and replies or broadcasts.
//
// Events of one connection are handled to completion in arrival order;
// requests from different connections run concurrently, which is why
// Room and Peer re-validate state around every engine call.
type Gateway struct {
	registry *Registry
	pool     *WorkerPool
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	logger logr.Logger
}

// session is the per-connection state. The connection id is the only
// correlation key across the conversation, so everything the protocol
// needs (the joined room) hangs off it.
type session struct {
	id   string
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	roomId string
}

func (s *session) room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomId
}

func (s *session) setRoom(roomId string) {
	s.mu.Lock()
	s.roomId = roomId
	s.mu.Unlock()
}

func NewGateway(registry *Registry, pool *WorkerPool) *Gateway {
	return &Gateway{
		registry: registry,
		pool:     pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		logger:   logger.New("Gateway"),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(err, "websocket upgrade failed")
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}

	g.mu.Lock()
	g.sessions[sess.id] = sess
	g.mu.Unlock()

	g.logger.Info("connection opened", "connectionId", sess.id, "remote", conn.RemoteAddr().String())

	go g.ping(sess)
	g.readLoop(sess)
}

// Send implements Messenger.
func (g *Gateway) Send(connectionId string, message Message) error {
	g.mu.RLock()
	sess, ok := g.sessions[connectionId]
	g.mu.RUnlock()

	if !ok {
		return ErrPeerNotFound
	}
	return g.write(sess, message)
}

func (g *Gateway) write(sess *session, message Message) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteJSON(message)
}

func (g *Gateway) ping(sess *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readLoop(sess *session) {
	defer g.disconnect(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.V(1).Info("connection read failed", "connectionId", sess.id, "error", err.Error())
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			g.replyError(sess, 0, err)
			continue
		}

		g.dispatch(sess, message)
	}
}

// disconnect runs the full teardown for a closing connection,
// equivalent to an explicit exitRoom followed by dropping the session.
func (g *Gateway) disconnect(sess *session) {
	g.leaveRoom(sess)

	g.mu.Lock()
	delete(g.sessions, sess.id)
	g.mu.Unlock()

	close(sess.done)
	sess.conn.Close()

	g.logger.Info("connection closed", "connectionId", sess.id)
}

func (g *Gateway) dispatch(sess *session, message Message) {
	switch message.Type {
	case EventCreateRoom:
		g.onCreateRoom(sess, message)
	case EventJoinRoom:
		g.onJoinRoom(sess, message)
	case EventExitRoom:
		g.onExitRoom(sess, message)
	case EventGetInRoomUsers:
		g.onGetInRoomUsers(sess, message)
	case EventGetRouterRtpCapabilities:
		g.onGetRouterRtpCapabilities(sess, message)
	case EventCreateWebRtcTransport:
		g.onCreateWebRtcTransport(sess, message)
	case EventConnectTransport:
		g.onConnectTransport(sess, message)
	case EventProduce:
		g.onProduce(sess, message)
	case EventConsume:
		g.onConsume(sess, message)
	case EventGetProducers:
		g.onGetProducers(sess, message)
	case EventCloseProducer:
		g.onCloseProducer(sess, message)
	case EventGetMyRoomInfo:
		g.onGetMyRoomInfo(sess, message)
	case EventUserChat:
		g.onUserChat(sess, message)
	default:
		g.logger.V(1).Info("unhandled event", "connectionId", sess.id, "type", message.Type)
	}
}

func (g *Gateway) onCreateRoom(sess *session, message Message) {
	var req CreateRoomRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	if _, err := g.registry.Create(req.RoomId, g.pool.Next(), g); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventRoomCreated, MessageResponse{Message: "Created room " + req.RoomId})
}

func (g *Gateway) onJoinRoom(sess *session, message Message) {
	var req JoinRoomRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	if joined := sess.room(); joined != "" && joined != req.RoomId {
		g.replyError(sess, message.Id, ErrAlreadyInRoom)
		return
	}

	room, err := g.registry.Get(req.RoomId)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	peer, created, err := room.CreatePeer(req.Name, sess.id)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}
	sess.setRoom(req.RoomId)

	g.reply(sess, message.Id, EventRoomJoined, MessageResponse{Message: "Joined room " + req.RoomId})

	// the payload only ever describes the incoming peer; retried joins
	// are not announced twice
	if created {
		room.Broadcast(sess.id, EventUserJoined, UserPayload{User: peer.Info()})
	}
}

func (g *Gateway) onExitRoom(sess *session, message Message) {
	if sess.room() == "" {
		g.replyError(sess, message.Id, ErrNotInRoom)
		return
	}

	g.leaveRoom(sess)
	g.reply(sess, message.Id, EventRoomExited, MessageResponse{Message: "Exited room"})
}

// leaveRoom removes the session's peer from its room, announces the
// departure, closes the peer's media and deletes the room when it
// became empty. Safe to call for sessions that never joined.
func (g *Gateway) leaveRoom(sess *session) {
	roomId := sess.room()
	if roomId == "" {
		return
	}
	sess.setRoom("")

	room, err := g.registry.Get(roomId)
	if err != nil {
		return
	}

	peer, ok := room.RemovePeer(sess.id)
	if !ok {
		return
	}

	room.Broadcast(sess.id, EventUserLeft, UserPayload{User: peer.Info()})

	// closing transports fires the producer close observers, which
	// broadcast producerClosed to the peers still in the room
	peer.Close()

	g.registry.RemoveIfEmpty(roomId)
}

func (g *Gateway) onGetInRoomUsers(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventInRoomUsers, InRoomUsersResponse{Users: room.Peers()})
}

func (g *Gateway) onGetRouterRtpCapabilities(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	capabilities, err := room.RouterRtpCapabilities()
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventRouterRtpCapabilities, capabilities)
}

func (g *Gateway) onCreateWebRtcTransport(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	ctx, cancel := g.requestContext()
	defer cancel()

	params, err := room.CreateWebRtcTransport(ctx, sess.id)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventWebRtcTransportCreated, CreateWebRtcTransportResponse{Params: params})
}

func (g *Gateway) onConnectTransport(sess *session, message Message) {
	var req ConnectTransportRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	ctx, cancel := g.requestContext()
	defer cancel()

	if err := room.ConnectPeerTransport(ctx, sess.id, req.TransportId, req.DtlsParameters); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventTransportConnected, MessageResponse{Message: "Transport connected"})
}

func (g *Gateway) onProduce(sess *session, message Message) {
	var req ProduceRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	ctx, cancel := g.requestContext()
	defer cancel()

	producerId, err := room.Produce(ctx, sess.id, req.ProducerTransportId, req.Kind, req.RtpParameters)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventProduced, ProduceResponse{ProducerId: producerId})
}

func (g *Gateway) onConsume(sess *session, message Message) {
	var req ConsumeRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	ctx, cancel := g.requestContext()
	defer cancel()

	params, err := room.Consume(ctx, sess.id, req.ConsumerTransportId, req.ProducerId, req.RtpCapabilities)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventConsumed, params)
}

func (g *Gateway) onGetProducers(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventNewProducers, room.ProducerList())
}

func (g *Gateway) onCloseProducer(sess *session, message Message) {
	var req CloseProducerRequest
	if err := json.Unmarshal(message.Payload, &req); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	if err := room.CloseProducer(sess.id, req.ProducerId); err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventProducerClosed, ProducerContainer{
		ProducerId: req.ProducerId,
		UserId:     sess.id,
	})
}

func (g *Gateway) onGetMyRoomInfo(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}

	g.reply(sess, message.Id, EventRoomInfo, RoomInfoResponse{
		Id:         room.Id(),
		PeersCount: len(room.Peers()),
	})
}

// onUserChat relays the chat payload verbatim to everyone else in the
// room. The sender appends its own message locally and persists it
// over the REST API, so it is excluded from the fan-out.
func (g *Gateway) onUserChat(sess *session, message Message) {
	room, err := g.sessionRoom(sess)
	if err != nil {
		g.replyError(sess, message.Id, err)
		return
	}
	if _, ok := room.Peer(sess.id); !ok {
		g.replyError(sess, message.Id, ErrPeerNotFound)
		return
	}

	room.Broadcast(sess.id, EventUserChat, message.Payload)
}

func (g *Gateway) sessionRoom(sess *session) (*Room, error) {
	roomId := sess.room()
	if roomId == "" {
		return nil, ErrNotInRoom
	}
	return g.registry.Get(roomId)
}

func (g *Gateway) reply(sess *session, id uint64, eventType EventType, payload interface{}) {
	message, err := NewMessage(eventType, id, payload)
	if err != nil {
		g.replyError(sess, id, err)
		return
	}
	if err := g.write(sess, message); err != nil {
		g.logger.V(1).Info("reply delivery failed", "connectionId", sess.id, "type", eventType)
	}
}

func (g *Gateway) replyError(sess *session, id uint64, err error) {
	message, merr := NewMessage(EventError, id, ErrorPayload{Message: err.Error()})
	if merr != nil {
		return
	}
	if werr := g.write(sess, message); werr != nil {
		g.logger.V(1).Info("error reply delivery failed", "connectionId", sess.id)
	}
}

func (g *Gateway) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
