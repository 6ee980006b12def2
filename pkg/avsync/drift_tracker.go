// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import "math"

type DriftDirection uint8

const (
	DriftDirectionNone DriftDirection = iota
	DriftDirectionIncreasing
	DriftDirectionDecreasing
)

func (d DriftDirection) ReadableString() string {
	switch d {
	case DriftDirectionIncreasing:
		return "increasing"
	case DriftDirectionDecreasing:
		return "decreasing"
	}
	return "none"
}

const (
	driftUpdateInterval       = 0.5
	driftChangeInterval       = 10.0
	driftFillLevelMargin      = 0.2
	driftMinLowFillLevel      = 0.1
	driftDirectionResetMargin = 0.1
	driftMinStep              = 0.02
	driftSmoothingFactor      = 0.95
)

// DriftTracker 估算缓冲水位（最新帧与最旧帧的时间戳差），
// 水位偏离 [target-0.2, target+0.2] 时，调整drift（叠加在帧时间戳上的偏移）让水位回到区间内
//
// 非并发安全，由所属的 JitterBuffer 在同一个 Loop 中调用
//
type DriftTracker struct {
	name string

	targetFillLevel    float64
	estimatedFillLevel float64
	drift              float64
	direction          DriftDirection

	lastUpdateTime      float64
	lastDriftChangeTime float64
	inited              bool
}

func NewDriftTracker(name string, targetFillLevel float64) *DriftTracker {
	return &DriftTracker{
		name:               name,
		targetFillLevel:    targetFillLevel,
		estimatedFillLevel: targetFillLevel,
	}
}

// Update
//
// @param now:      当前输出时间
// @param oldestTs: 缓冲中最旧帧的时间戳，缓冲为空时与newestTs相等即可
// @param newestTs: 缓冲中最新帧的时间戳
//
// @return changed: drift是否发生了变化
//
func (d *DriftTracker) Update(now, oldestTs, newestTs float64) (drift float64, changed bool) {
	if !d.inited {
		d.inited = true
		d.lastUpdateTime = now
		d.lastDriftChangeTime = now
	} else if now-d.lastUpdateTime < driftUpdateInterval {
		return d.drift, false
	}
	d.lastUpdateTime = now

	fillLevel := newestTs - oldestTs
	d.estimatedFillLevel = d.estimatedFillLevel*driftSmoothingFactor + fillLevel*(1-driftSmoothingFactor)

	lowMark := math.Max(d.targetFillLevel-driftFillLevelMargin, driftMinLowFillLevel)
	highMark := d.targetFillLevel + driftFillLevelMargin

	switch d.direction {
	case DriftDirectionNone:
		if d.estimatedFillLevel < lowMark {
			d.setDirection(DriftDirectionIncreasing)
		} else if d.estimatedFillLevel > highMark {
			d.setDirection(DriftDirectionDecreasing)
		}
	default:
		if d.estimatedFillLevel >= lowMark+driftDirectionResetMargin &&
			d.estimatedFillLevel <= highMark-driftDirectionResetMargin {
			d.setDirection(DriftDirectionNone)
		}
	}

	if d.direction == DriftDirectionNone || now-d.lastDriftChangeTime < driftChangeInterval {
		return d.drift, false
	}
	d.lastDriftChangeTime = now

	switch d.direction {
	case DriftDirectionIncreasing:
		d.drift = math.Max(d.drift+driftMinStep, d.drift+(lowMark-d.estimatedFillLevel))
	case DriftDirectionDecreasing:
		d.drift = math.Min(d.drift-driftMinStep, d.drift-(d.estimatedFillLevel-highMark))
	}
	Log.Infof("[%s] drift changed. drift=%.3f, estimated=%.3f, target=%.3f, range=[%.3f, %.3f]",
		d.name, d.drift, d.estimatedFillLevel, d.targetFillLevel, lowMark, highMark)
	return d.drift, true
}

// SetTargetFillLevel 目标水位调高时，估算水位同步调高，避免误判为欠载
func (d *DriftTracker) SetTargetFillLevel(targetFillLevel float64) {
	if targetFillLevel > d.estimatedFillLevel {
		d.estimatedFillLevel = targetFillLevel
	}
	d.targetFillLevel = targetFillLevel
}

// SetDrift 外部直接设置drift（音视频之间互相同步），正在进行的调整取消
func (d *DriftTracker) SetDrift(drift float64) {
	d.drift = drift
	d.direction = DriftDirectionNone
}

func (d *DriftTracker) Drift() float64 {
	return d.drift
}

func (d *DriftTracker) EstimatedFillLevel() float64 {
	return d.estimatedFillLevel
}

func (d *DriftTracker) TargetFillLevel() float64 {
	return d.targetFillLevel
}

func (d *DriftTracker) Direction() DriftDirection {
	return d.direction
}

func (d *DriftTracker) setDirection(direction DriftDirection) {
	if d.direction == direction {
		return
	}
	Log.Debugf("[%s] drift direction %s -> %s. estimated=%.3f, target=%.3f",
		d.name, d.direction.ReadableString(), direction.ReadableString(), d.estimatedFillLevel, d.targetFillLevel)
	d.direction = direction
}
