package bus

import (
	"context"
	"sync"

	"github.com/IBM/sarama"

	"vigil/internal/config"
	"vigil/internal/logger"
)

// KafkaForwarder 订阅 Hub 并把事件转发到 Kafka。
// 消息以 key 串作为分区键，同一（策略，交易对）的事件落在同一分区，
// 下游按分区消费即可保持与发布一致的顺序。
type KafkaForwarder struct {
	producer sarama.SyncProducer
	topic    string
	wg       sync.WaitGroup
}

func NewKafkaForwarder(cfg config.KafkaConfig) (*KafkaForwarder, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &KafkaForwarder{producer: producer, topic: cfg.Topic}, nil
}

// Run 消费订阅通道直到 ctx 结束或 Hub 关闭。
func (f *KafkaForwarder) Run(ctx context.Context, events <-chan Event) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				f.forward(ev)
			}
		}
	}()
}

func (f *KafkaForwarder) forward(ev Event) {
	payload, err := ev.MarshalPayload()
	if err != nil {
		logger.Errorf("kafka: encoding event for %s: %v", ev.Key, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(ev.Key.String()),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := f.producer.SendMessage(msg); err != nil {
		logger.Errorf("kafka: sending %s event for %s: %v", ev.Kind, ev.Key, err)
	}
}

func (f *KafkaForwarder) Close() error {
	f.wg.Wait()
	return f.producer.Close()
}
