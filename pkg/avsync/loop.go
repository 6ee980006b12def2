// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import (
	"context"
	"time"

	"github.com/q191201771/lalts/pkg/base"
)

// Loop 单协程串行执行任务，可选地按固定间隔执行onTick
//
// 投递到同一个 Loop 的任务之间不需要加锁
//
type Loop struct {
	uniqueKey string
	name      string

	tasks        chan func()
	tickInterval time.Duration
	onTick       func()
}

// NewLoop
//
// @param tickInterval: 为0时不启动定时器
//
func NewLoop(name string, queueSize int, tickInterval time.Duration, onTick func()) *Loop {
	uk := base.GenUkLoop()
	Log.Infof("[%s] lifecycle new loop. name=%s, queue=%d, tick=%v", uk, name, queueSize, tickInterval)
	return &Loop{
		uniqueKey:    uk,
		name:         name,
		tasks:        make(chan func(), queueSize),
		tickInterval: tickInterval,
		onTick:       onTick,
	}
}

// Dispatch 非阻塞，队列满时丢弃任务并返回错误
func (l *Loop) Dispatch(task func()) error {
	select {
	case l.tasks <- task:
		return nil
	default:
		Log.Warnf("[%s] task queue full, drop task. name=%s, size=%d", l.uniqueKey, l.name, cap(l.tasks))
		return ErrLoopQueueFull
	}
}

// Run 阻塞直到ctx结束
func (l *Loop) Run(ctx context.Context) error {
	var tickC <-chan time.Time
	if l.tickInterval > 0 && l.onTick != nil {
		ticker := time.NewTicker(l.tickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	Log.Debugf("[%s] loop run. name=%s", l.uniqueKey, l.name)
	for {
		select {
		case <-ctx.Done():
			Log.Debugf("[%s] loop done. name=%s, err=%+v", l.uniqueKey, l.name, ctx.Err())
			return nil
		case task := <-l.tasks:
			task()
		case <-tickC:
			l.onTick()
		}
	}
}
