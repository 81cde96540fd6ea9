package wsclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"segclient/pkg/types"
)

// Message type discriminators.
const (
	TypeConnectionEstablished   = "connection_established"
	TypePing                    = "ping"
	TypePong                    = "pong"
	TypeParameterUpdate         = "parameter_update"
	TypeParameterUpdateComplete = "parameter_update_complete"
	TypeParameterUpdateError    = "parameter_update_error"
	TypeStartSegmentation       = "start_segmentation"
	TypeSegmentationStart       = "segmentation_start"
	TypeSegmentationProgress    = "segmentation_progress"
	TypeSegmentationComplete    = "segmentation_complete"
	TypeSegmentationError       = "segmentation_error"
	TypeViewModeChange          = "view_mode_change"
	TypeError                   = "error"
)

// Message is a typed duplex envelope. The wire form is the struct's JSON
// object with a "type" field added.
type Message interface {
	Type() string
}

type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message,omitempty"`
}

// Ping and Pong carry a unix millisecond timestamp.
type Ping struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ParameterUpdate asks the backend to re-run one algorithm with a changed
// parameter.
type ParameterUpdate struct {
	AlgorithmName  string `json:"algorithm_name"`
	ParameterName  string `json:"parameter_name"`
	ParameterValue any    `json:"parameter_value"`
	ImageID        string `json:"image_id"`
}

type ParameterUpdateComplete struct {
	AlgorithmName  string                     `json:"algorithm_name"`
	ParameterName  string                     `json:"parameter_name"`
	ParameterValue any                        `json:"parameter_value"`
	Result         types.SegmentationResponse `json:"result"`
}

type ParameterUpdateError struct {
	Error string `json:"error"`
}

// StartSegmentation runs a full request over the duplex channel.
type StartSegmentation struct {
	Request types.SegmentationRequest `json:"request"`
}

// SegmentationStart is sent when an algorithm begins running. The backend
// names the algorithm in "algorithm"; Decode mirrors it into AlgorithmName.
type SegmentationStart struct {
	AlgorithmName string `json:"algorithm_name,omitempty"`
	Algorithm     string `json:"algorithm,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

type SegmentationProgress struct {
	AlgorithmName   string  `json:"algorithm_name"`
	ProgressPercent float64 `json:"progress_percent"`
	// Seconds, when the backend can estimate it.
	EstimatedTimeRemaining *float64 `json:"estimated_time_remaining,omitempty"`
}

type SegmentationComplete struct {
	Result    types.SegmentationResult `json:"result"`
	RequestID string                   `json:"request_id,omitempty"`
}

// SegmentationError reports a failed algorithm. The backend may use
// "algorithm" and "error" instead of the long names; Decode normalizes both.
type SegmentationError struct {
	AlgorithmName string `json:"algorithm_name"`
	ErrorMessage  string `json:"error_message"`
	ErrorCode     string `json:"error_code,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	Algorithm     string `json:"algorithm,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ViewModeChange struct {
	ViewMode types.ViewMode `json:"view_mode"`
}

// ServerError is a generic error frame, e.g. for an unknown message type.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown holds a frame whose type is not recognized.
type Unknown struct {
	Kind string
	Raw  json.RawMessage
}

func (ConnectionEstablished) Type() string   { return TypeConnectionEstablished }
func (Ping) Type() string                    { return TypePing }
func (Pong) Type() string                    { return TypePong }
func (ParameterUpdate) Type() string         { return TypeParameterUpdate }
func (ParameterUpdateComplete) Type() string { return TypeParameterUpdateComplete }
func (ParameterUpdateError) Type() string    { return TypeParameterUpdateError }
func (StartSegmentation) Type() string       { return TypeStartSegmentation }
func (SegmentationStart) Type() string       { return TypeSegmentationStart }
func (SegmentationProgress) Type() string    { return TypeSegmentationProgress }
func (SegmentationComplete) Type() string    { return TypeSegmentationComplete }
func (SegmentationError) Type() string       { return TypeSegmentationError }
func (ViewModeChange) Type() string          { return TypeViewModeChange }
func (ServerError) Type() string             { return TypeError }
func (u Unknown) Type() string               { return u.Kind }

var errMissingType = errors.New("missing message type")

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	if u, ok := m.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	typ, _ := json.Marshal(m.Type())
	var b bytes.Buffer
	b.WriteString(`{"type":`)
	b.Write(typ)
	if len(body) > 2 {
		b.WriteByte(',')
		b.Write(body[1:])
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}

// Decode parses one inbound frame. Unrecognized types decode to Unknown.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errMissingType
	}
	var m Message
	switch env.Type {
	case TypeConnectionEstablished:
		m = &ConnectionEstablished{}
	case TypePing:
		m = &Ping{}
	case TypePong:
		m = &Pong{}
	case TypeParameterUpdate:
		m = &ParameterUpdate{}
	case TypeParameterUpdateComplete:
		m = &ParameterUpdateComplete{}
	case TypeParameterUpdateError:
		m = &ParameterUpdateError{}
	case TypeStartSegmentation:
		m = &StartSegmentation{}
	case TypeSegmentationStart:
		m = &SegmentationStart{}
	case TypeSegmentationProgress:
		m = &SegmentationProgress{}
	case TypeSegmentationComplete:
		m = &SegmentationComplete{}
	case TypeSegmentationError:
		m = &SegmentationError{}
	case TypeViewModeChange:
		m = &ViewModeChange{}
	case TypeError:
		m = &ServerError{}
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Kind: env.Type, Raw: raw}, nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return normalize(m), nil
}

// normalize dereferences decoded messages and fills long field names from
// the backend's short aliases.
func normalize(m Message) Message {
	switch v := m.(type) {
	case *ConnectionEstablished:
		return *v
	case *Ping:
		return *v
	case *Pong:
		return *v
	case *ParameterUpdate:
		return *v
	case *ParameterUpdateComplete:
		return *v
	case *ParameterUpdateError:
		return *v
	case *StartSegmentation:
		return *v
	case *SegmentationStart:
		if v.AlgorithmName == "" {
			v.AlgorithmName = v.Algorithm
		}
		return *v
	case *SegmentationProgress:
		return *v
	case *SegmentationComplete:
		return *v
	case *SegmentationError:
		if v.AlgorithmName == "" {
			v.AlgorithmName = v.Algorithm
		}
		if v.ErrorMessage == "" {
			v.ErrorMessage = v.Error
		}
		return *v
	case *ViewModeChange:
		return *v
	case *ServerError:
		return *v
	}
	return m
}
