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

package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"batchloader/internal/logging"
)

var logger = logging.New("redis-demo")

// LoggingGetter is a demo Getter that logs the MGET it would have issued and
// reports every key as a miss. It lets a demo select the Redis backend
// without a real Redis instance. Not for production use.
type LoggingGetter struct{}

func (LoggingGetter) MGet(ctx context.Context, keys ...string) *goredis.SliceCmd {
	logger.Printf("MGET keys=%v", keys)
	cmd := goredis.NewSliceCmd(ctx)
	vals := make([]interface{}, len(keys))
	cmd.SetVal(vals)
	return cmd
}
