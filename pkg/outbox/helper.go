package outbox

import (
	"context"
	"encoding/json"
)

// InsertEventInTx 序列化 payload 并在事务中写入 outbox
func InsertEventInTx(
	ctx context.Context,
	tx Querier,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	payload any,
) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	}
	if err := repo.InsertEvent(ctx, tx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// traceIDFromPayload 读取 payload 顶层的 trace_id 字段
func traceIDFromPayload(payload json.RawMessage) string {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.TraceID
}
