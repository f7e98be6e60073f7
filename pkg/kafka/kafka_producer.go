package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, topic string, key []byte, msg any) error
	Close()
}

type kafkaProducer struct {
	tickerWriter    *kafka.Writer // 用于高频 Ticker
	subscribeWriter *kafka.Writer // 用于低频 Subscribe
}

func NewKafkaProducer(brokerURL string) ProducerService {
	tickerWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    "marketdata_ticker",
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	subscribeWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    "marketdata_subscribe",
		Balancer: &kafka.LeastBytes{},
	}

	return &kafkaProducer{
		tickerWriter:    tickerWriter,
		subscribeWriter: subscribeWriter,
	}
}

// Produce 通用方法：序列化消息并写入 Kafka
func (p *kafkaProducer) Produce(ctx context.Context, topic string, key []byte, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var writer *kafka.Writer
	switch topic {
	case "marketdata_ticker":
		writer = p.tickerWriter
	case "marketdata_subscribe":
		writer = p.subscribeWriter
	default:
		return errors.New("invalid kafka topic")
	}

	// 使用 key 作为 Kafka Key，确保相同币种的数据进入同一个 Partition (有序性/关联性)
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: data,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.tickerWriter.Close(); err != nil {
		log.Printf("Error closing Ticker writer: %v", err)
	}
	if err := p.subscribeWriter.Close(); err != nil {
		log.Printf("Error closing Subscribe writer: %v", err)
	}
}
