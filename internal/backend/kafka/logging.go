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

package kafka

import (
	"github.com/Shopify/sarama"

	"batchloader/internal/logging"
)

var logger = logging.New("kafka-demo")

// LoggingProducer is a demo Producer that logs the message it would have
// sent instead of requiring a running broker. Not for production use.
type LoggingProducer struct{}

func (LoggingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	val, _ := msg.Value.Encode()
	logger.Printf("TOPIC=%s KEY=%v VALUE=%s", msg.Topic, msg.Key, val)
	return 0, 0, nil
}
