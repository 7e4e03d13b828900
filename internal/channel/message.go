package channel

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pickle"
)

// AdvanceToken is the only payload with a meaning to the monitor.
const AdvanceToken = "next"

// pickleProto is the opcode that opens every pickle of protocol 2 or later.
const pickleProto = 0x80

type Kind int

const (
	Unknown Kind = iota
	Advance
)

func (k Kind) String() string {
	switch k {
	case Advance:
		return "advance"
	default:
		return "unknown"
	}
}

// Message is one control message received from the producer.
type Message struct {
	Kind    Kind
	Payload string
}

// Classify maps a decoded payload to a Message.
func Classify(payload string) Message {
	if payload == AdvanceToken {
		return Message{Kind: Advance, Payload: payload}
	}
	return Message{Kind: Unknown, Payload: payload}
}

// decode turns a frame into text. Python producers send pickled objects;
// anything that does not unpickle is taken as raw text.
func decode(frame []byte) (string, bool) {
	if len(frame) == 0 || frame[0] != pickleProto {
		return string(frame), true
	}
	v, err := pickle.Loads(string(frame))
	if err != nil {
		return string(frame), false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return fmt.Sprint(v), true
	}
}
