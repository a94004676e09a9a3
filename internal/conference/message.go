package conference

import (
	"encoding/json"

	"github.com/jiyeyuran/mediasoup-go"
)

// EventType tags every message exchanged over the signaling socket.
type EventType string

const (
	// requests
	EventCreateRoom               EventType = "createRoom"
	EventJoinRoom                 EventType = "joinRoom"
	EventExitRoom                 EventType = "exitRoom"
	EventGetInRoomUsers           EventType = "getInRoomUsers"
	EventGetRouterRtpCapabilities EventType = "getRouterRtpCapabilities"
	EventCreateWebRtcTransport    EventType = "createWebRtcTransport"
	EventConnectTransport         EventType = "connectTransport"
	EventProduce                  EventType = "produce"
	EventConsume                  EventType = "consume"
	EventGetProducers             EventType = "getProducers"
	EventCloseProducer            EventType = "closeProducer"
	EventGetMyRoomInfo            EventType = "getMyRoomInfo"
	EventUserChat                 EventType = "userChatMessage"

	// acknowledgments
	EventRoomCreated            EventType = "createdRoom"
	EventRoomJoined             EventType = "joinedRoom"
	EventRoomExited             EventType = "exitedRoom"
	EventInRoomUsers            EventType = "inRoomUsers"
	EventRouterRtpCapabilities  EventType = "routerRtpCapabilities"
	EventWebRtcTransportCreated EventType = "createdWebRtcTransport"
	EventTransportConnected     EventType = "transportConnected"
	EventProduced               EventType = "produced"
	EventConsumed               EventType = "consumed"
	EventRoomInfo               EventType = "roomInfo"
	EventError                  EventType = "error"

	// server initiated notifications
	EventUserJoined     EventType = "userJoined"
	EventUserLeft       EventType = "userLeft"
	EventNewProducers   EventType = "newProducers"
	EventProducerClosed EventType = "producerClosed"
	EventConsumerClosed EventType = "consumerClosed"
)

// Message is the wire envelope. Requests carry a client-chosen
// correlation id which the matching acknowledgment echoes back;
// notifications carry none.
type Message struct {
	Type    EventType       `json:"type"`
	Id      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with a marshaled payload. A nil
// payload yields an empty payload field.
func NewMessage(eventType EventType, id uint64, payload interface{}) (Message, error) {
	message := Message{Type: eventType, Id: id}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		message.Payload = data
	}

	return message, nil
}

// PeerInfo is the public identity of a peer.
type PeerInfo struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type CreateRoomRequest struct {
	RoomId string `json:"roomId"`
}

type JoinRoomRequest struct {
	RoomId string `json:"roomId"`
	Name   string `json:"name"`
}

// MessageResponse acknowledges requests that need no data beyond
// success.
type MessageResponse struct {
	Message string `json:"message"`
}

type InRoomUsersResponse struct {
	Users []PeerInfo `json:"users"`
}

// WebRtcTransportParams is everything a client needs to instantiate
// its local transport mirror.
type WebRtcTransportParams struct {
	Id             string                   `json:"id"`
	IceParameters  mediasoup.IceParameters  `json:"iceParameters"`
	IceCandidates  []mediasoup.IceCandidate `json:"iceCandidates"`
	DtlsParameters mediasoup.DtlsParameters `json:"dtlsParameters"`
}

type CreateWebRtcTransportResponse struct {
	Params WebRtcTransportParams `json:"params"`
}

type ConnectTransportRequest struct {
	TransportId    string                   `json:"transport_id"`
	DtlsParameters mediasoup.DtlsParameters `json:"dtlsParameters"`
}

type ProduceRequest struct {
	ProducerTransportId string                  `json:"producerTransportId"`
	Kind                mediasoup.MediaKind     `json:"kind"`
	RtpParameters       mediasoup.RtpParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	ProducerId string `json:"producer_id"`
}

type ConsumeRequest struct {
	ConsumerTransportId string                    `json:"consumerTransportId"`
	ProducerId          string                    `json:"producerId"`
	RtpCapabilities     mediasoup.RtpCapabilities `json:"rtpCapabilities"`
}

// ConsumerParams mirrors what mediasoup-client expects to create the
// receiving side of a consumer.
type ConsumerParams struct {
	Id             string                  `json:"id"`
	ProducerId     string                  `json:"producerId"`
	Kind           mediasoup.MediaKind     `json:"kind"`
	RtpParameters  mediasoup.RtpParameters `json:"rtpParameters"`
	Type           string                  `json:"type"`
	ProducerPaused bool                    `json:"producerPaused"`
}

// ProducerContainer identifies one producer and the connection that
// owns it.
type ProducerContainer struct {
	ProducerId string `json:"producer_id"`
	UserId     string `json:"userId"`
}

type CloseProducerRequest struct {
	ProducerId string `json:"producer_id"`
}

type ConsumerClosedPayload struct {
	ConsumerId string `json:"consumer_id"`
}

type UserPayload struct {
	User PeerInfo `json:"user"`
}

type RoomInfoResponse struct {
	Id         string `json:"id"`
	PeersCount int    `json:"peersCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
