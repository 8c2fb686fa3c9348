package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"pubpipe/internal/services"
	"pubpipe/internal/stage"
)

// Message asks a worker to run one stage of one attempt.
type Message struct {
	ReleaseVersionID uuid.UUID
	AttemptID        uuid.UUID
	Stage            stage.Stage
}

type wireMessage struct {
	ReleaseVersionID string `json:"releaseVersionId" validate:"required,uuid"`
	AttemptID        string `json:"attemptId" validate:"required,uuid"`
	Stage            string `json:"stage" validate:"required,oneof=Content Files Publishing"`
}

var validate = validator.New()

// Encode renders m in its wire format.
func Encode(m Message) ([]byte, error) {
	if m.ReleaseVersionID == uuid.Nil || m.AttemptID == uuid.Nil || !m.Stage.Valid() {
		return nil, services.Wrap(services.ErrValidation, "queue", "encode", fmt.Sprintf("incomplete message %+v", m), nil)
	}
	return json.Marshal(wireMessage{
		ReleaseVersionID: m.ReleaseVersionID.String(),
		AttemptID:        m.AttemptID.String(),
		Stage:            string(m.Stage),
	})
}

// Decode parses and validates a wire message.
func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, services.Wrap(services.ErrValidation, "queue", "decode", "malformed message", err)
	}
	if err := validate.Struct(wire); err != nil {
		return Message{}, services.Wrap(services.ErrValidation, "queue", "decode", "invalid message", err)
	}
	st, err := stage.Parse(wire.Stage)
	if err != nil {
		return Message{}, services.Wrap(services.ErrValidation, "queue", "decode", "invalid stage", err)
	}
	// validate already checked the uuid format.
	return Message{
		ReleaseVersionID: uuid.MustParse(wire.ReleaseVersionID),
		AttemptID:        uuid.MustParse(wire.AttemptID),
		Stage:            st,
	}, nil
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%s/%s", m.ReleaseVersionID, m.AttemptID, m.Stage)
}
