package sink

import (
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/devicetest/dltcos/internal/pipeline"
)

// Message headers set on every published report.
const (
	HeaderBatchID     = "batch_id"
	HeaderContentType = "content_type"
)

// toMessage encodes rep as a Kafka message keyed by cell ID.
func toMessage(rep *pipeline.Report) (kafka.Message, error) {
	value, err := json.Marshal(rep)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(rep.CellID),
		Value: value,
		Time:  rep.GeneratedAt,
		Headers: []kafka.Header{
			{Key: HeaderBatchID, Value: []byte(rep.BatchID)},
			{Key: HeaderContentType, Value: []byte("application/json")},
		},
	}, nil
}
