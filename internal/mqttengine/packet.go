package mqttengine

import (
	"encoding/binary"
	"fmt"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
)

// MQTT 3.1.1 control packet types (high nibble of the fixed header's
// first byte).
const (
	typeCONNECT     byte = 0x10
	typeCONNACK     byte = 0x20
	typePUBLISH     byte = 0x30
	typePUBACK      byte = 0x40
	typeSUBSCRIBE   byte = 0x80 | 0x02 // reserved bits 0010 required by spec
	typeSUBACK      byte = 0x90
	typePINGREQ     byte = 0xC0
	typePINGRESP    byte = 0xD0
	typeDISCONNECT  byte = 0xE0
	typeMaskControl byte = 0xF0
)

const maxRemainingLengthBytes = 4

// encodeRemainingLength implements the MQTT variable-length encoding:
// 7 bits per byte, continuation bit (0x80) set while more bytes follow.
func encodeRemainingLength(n int) []byte {
	var out []byte
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

// rawPacket is a fully-received control packet ready for dispatch.
type rawPacket struct {
	Type  byte
	Flags byte
	Body  []byte
}

// extractPacket attempts to pull one complete packet from the front of
// buf. consumed is the number of bytes belonging to that packet (valid
// only when ok is true). A nil error with ok=false means more bytes
// are needed; a non-nil error means the stream is unrecoverably
// malformed (per spec §4.6, more than 4 continuation bytes).
func extractPacket(buf []byte) (pkt rawPacket, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return rawPacket{}, 0, false, nil
	}

	first := buf[0]
	remaining := 0
	multiplier := 1
	i := 1
	for {
		if i >= len(buf) {
			return rawPacket{}, 0, false, nil
		}
		if i-1 >= maxRemainingLengthBytes {
			return rawPacket{}, 0, false, bridgeerrors.NewMalformedFrame(
				"mqttengine.extractPacket", "remaining length exceeds 4 continuation bytes", nil)
		}
		b := buf[i]
		remaining += int(b&0x7F) * multiplier
		i++
		if b&0x80 == 0 {
			break
		}
		multiplier *= 128
	}

	total := i + remaining
	if len(buf) < total {
		return rawPacket{}, 0, false, nil
	}

	return rawPacket{
		Type:  first & typeMaskControl,
		Flags: first & 0x0F,
		Body:  buf[i:total],
	}, total, true, nil
}

// will carries the last-will publish the broker issues on ungraceful
// disconnect (spec §4.11: fossibot/bridge/status = offline, retained).
type will struct {
	Topic   string
	Message string
	QoS     byte
	Retain  bool
}

// buildConnect assembles a CONNECT packet per spec §4.6: protocol
// name MQTT, level 4, clean-session set, username/password flags when
// provided, an optional last-will, the given keep-alive, and the
// caller-supplied client id.
func buildConnect(clientID, username, password string, keepAlive uint16, lw *will) []byte {
	var varHeader []byte
	varHeader = append(varHeader, 0x00, 0x04, 'M', 'Q', 'T', 'T')
	varHeader = append(varHeader, 0x04) // protocol level 4

	var flags byte = 0x02 // clean session
	if lw != nil {
		flags |= 0x04
		flags |= (lw.QoS & 0x03) << 3
		if lw.Retain {
			flags |= 0x20
		}
	}
	if username != "" {
		flags |= 0x80
	}
	if password != "" {
		flags |= 0x40
	}
	varHeader = append(varHeader, flags)
	varHeader = append(varHeader, byte(keepAlive>>8), byte(keepAlive))

	var payload []byte
	payload = append(payload, encodeUTF8String(clientID)...)
	if lw != nil {
		payload = append(payload, encodeUTF8String(lw.Topic)...)
		payload = append(payload, encodeUTF8String(lw.Message)...)
	}
	if username != "" {
		payload = append(payload, encodeUTF8String(username)...)
	}
	if password != "" {
		payload = append(payload, encodeUTF8String(password)...)
	}

	body := append(varHeader, payload...)
	return append([]byte{typeCONNECT}, append(encodeRemainingLength(len(body)), body...)...)
}

func encodeUTF8String(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// connackResult is the parsed body of a CONNACK packet.
type connackResult struct {
	SessionPresent bool
	ReturnCode     byte
}

func parseConnack(body []byte) (connackResult, error) {
	if len(body) != 2 {
		return connackResult{}, bridgeerrors.NewMalformedFrame(
			"mqttengine.parseConnack", "unexpected CONNACK body length", fmt.Errorf("len=%d", len(body)))
	}
	return connackResult{SessionPresent: body[0]&0x01 != 0, ReturnCode: body[1]}, nil
}

// buildSubscribe assembles a SUBSCRIBE packet requesting QoS 0 for
// each topic.
func buildSubscribe(packetID uint16, topics []string) []byte {
	var body []byte
	body = append(body, byte(packetID>>8), byte(packetID))
	for _, topic := range topics {
		body = append(body, encodeUTF8String(topic)...)
		body = append(body, 0x00) // requested QoS 0
	}
	return append([]byte{typeSUBSCRIBE}, append(encodeRemainingLength(len(body)), body...)...)
}

func parseSubackPacketID(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, bridgeerrors.NewMalformedFrame(
			"mqttengine.parseSubackPacketID", "SUBACK body too short", fmt.Errorf("len=%d", len(body)))
	}
	return binary.BigEndian.Uint16(body[:2]), nil
}

// buildPublish assembles a PUBLISH packet. packetID is only used when
// qos > 0; pass 0 for QoS 0 publishes.
func buildPublish(topic string, payload []byte, qos byte, packetID uint16, retain bool) []byte {
	var body []byte
	body = append(body, encodeUTF8String(topic)...)
	if qos > 0 {
		body = append(body, byte(packetID>>8), byte(packetID))
	}
	body = append(body, payload...)

	first := typePUBLISH | (qos << 1)
	if retain {
		first |= 0x01
	}
	return append([]byte{first}, append(encodeRemainingLength(len(body)), body...)...)
}

// publishMessage is a decoded inbound PUBLISH.
type publishMessage struct {
	Topic     string
	Payload   []byte
	QoS       byte
	PacketID  uint16
	Retain    bool
	Duplicate bool
}

func parsePublish(flags byte, body []byte) (publishMessage, error) {
	msg := publishMessage{
		QoS:       (flags >> 1) & 0x03,
		Retain:    flags&0x01 != 0,
		Duplicate: flags&0x08 != 0,
	}
	if len(body) < 2 {
		return publishMessage{}, bridgeerrors.NewMalformedFrame(
			"mqttengine.parsePublish", "PUBLISH body too short for topic length", nil)
	}
	topicLen := int(binary.BigEndian.Uint16(body[:2]))
	if 2+topicLen > len(body) {
		return publishMessage{}, bridgeerrors.NewMalformedFrame(
			"mqttengine.parsePublish", "PUBLISH declared topic length exceeds body", nil)
	}
	msg.Topic = string(body[2 : 2+topicLen])
	rest := body[2+topicLen:]

	if msg.QoS > 0 {
		if len(rest) < 2 {
			return publishMessage{}, bridgeerrors.NewMalformedFrame(
				"mqttengine.parsePublish", "PUBLISH body too short for packet id", nil)
		}
		msg.PacketID = binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
	}
	msg.Payload = rest
	return msg, nil
}

func buildPubAck(packetID uint16) []byte {
	body := []byte{byte(packetID >> 8), byte(packetID)}
	return append([]byte{typePUBACK}, append(encodeRemainingLength(len(body)), body...)...)
}

func buildPingReq() []byte    { return []byte{typePINGREQ, 0x00} }
func buildDisconnect() []byte { return []byte{typeDISCONNECT, 0x00} }
