// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kafka provides a batchloader.AuditSink that publishes one message
// per observed batch flush, for operators who want a durable trail of how
// the engine is actually grouping keys in production.
package kafka

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Shopify/sarama"
)

// FlushEvent is the payload published for every flush.
type FlushEvent struct {
	SlotKey   string `json:"slot_key"`
	BatchSize int    `json:"batch_size"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

// Producer is the subset of sarama.SyncProducer an AuditSink needs.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// AuditSink publishes FlushEvent messages to topic, keyed by slot so a
// consumer can reconstruct per-slot batch-size history.
type AuditSink struct {
	producer Producer
	topic    string
}

// NewAuditSink wraps an existing sarama producer.
func NewAuditSink(producer Producer, topic string) *AuditSink {
	return &AuditSink{producer: producer, topic: topic}
}

// NewSyncProducer builds a sarama.SyncProducer with idempotent production
// enabled, suitable for passing to NewAuditSink.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka audit sink: new producer: %w", err)
	}
	return producer, nil
}

// Publish implements batchloader.AuditSink. Marshal or publish failures are
// logged rather than returned: a flush that already happened must not be
// undone by an audit trail hiccup.
func (a *AuditSink) Publish(slotKey any, batchSize int) {
	evt := FlushEvent{
		SlotKey:   fmt.Sprint(slotKey),
		BatchSize: batchSize,
		TsUnixMs:  time.Now().UnixMilli(),
	}
	b, err := json.Marshal(evt)
	if err != nil {
		log.Printf("kafka audit sink: marshal flush event: %v", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(evt.SlotKey),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := a.producer.SendMessage(msg); err != nil {
		log.Printf("kafka audit sink: publish flush event for slot %q: %v", evt.SlotKey, err)
	}
}
