package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEventTrigger MessageType = "event.trigger"
	MessageTypeRunFinished  MessageType = "run.finished"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// EventTriggerPayload — payload для event.trigger.
type EventTriggerPayload struct {
	Event domain.Event `json:"event"`
}

// RunFinishedPayload — payload для run.finished.
type RunFinishedPayload struct {
	RunID       uuid.UUID        `json:"run_id"`
	Pipeline    string           `json:"pipeline"`
	RunnerLabel string           `json:"runner_label"`
	Status      domain.RunStatus `json:"status"`
	FailedStep  string           `json:"failed_step,omitempty"`
	FailureKind domain.StepKind  `json:"failure_kind,omitempty"`
	CacheKey    string           `json:"cache_key,omitempty"`
	Error       string           `json:"error,omitempty"`
	Ref         string           `json:"ref,omitempty"`
	SHA         string           `json:"sha,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

// NewRunFinishedPayload собирает payload из завершённого run.
func NewRunFinishedPayload(run *domain.Run) RunFinishedPayload {
	return RunFinishedPayload{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		RunnerLabel: run.RunnerLabel,
		Status:      run.Status,
		FailedStep:  run.FailedStep,
		FailureKind: run.FailureKind,
		CacheKey:    run.CacheKey,
		Error:       run.Error,
		Ref:         run.Event.Ref,
		SHA:         run.Event.SHA,
		DurationMs:  run.Duration().Milliseconds(),
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после json.Unmarshal конверта — map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
