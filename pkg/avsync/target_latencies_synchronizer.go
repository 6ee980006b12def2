// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import "math"

const (
	latencyDiffSmoothingFactor = 0.98
	latencyDiffReportThreshold = 0.1
)

// TargetLatenciesSynchronizer 比较音频和视频最新的时间戳，
// 跑在前面的那一路调大目标延迟，使音视频重新对齐
//
type TargetLatenciesSynchronizer struct {
	targetLatency float64

	latestAudioPts    float64
	hasLatestAudioPts bool
	latestVideoPts    float64
	hasLatestVideoPts bool

	estimatedDiff float64
	reportedDiff  float64
}

func NewTargetLatenciesSynchronizer(targetLatency float64) *TargetLatenciesSynchronizer {
	return &TargetLatenciesSynchronizer{
		targetLatency: targetLatency,
	}
}

func (s *TargetLatenciesSynchronizer) SetLatestAudioPts(pts float64) {
	s.latestAudioPts = pts
	s.hasLatestAudioPts = true
}

func (s *TargetLatenciesSynchronizer) SetLatestVideoPts(pts float64) {
	s.latestVideoPts = pts
	s.hasLatestVideoPts = true
}

// Update
//
// @return ok: 为true时，audio和video是新的目标延迟
//
func (s *TargetLatenciesSynchronizer) Update() (audio, video float64, ok bool) {
	if !s.hasLatestAudioPts || !s.hasLatestVideoPts {
		return 0, 0, false
	}
	diff := s.latestAudioPts - s.latestVideoPts
	s.hasLatestAudioPts = false
	s.hasLatestVideoPts = false

	s.estimatedDiff = s.estimatedDiff*latencyDiffSmoothingFactor + diff*(1-latencyDiffSmoothingFactor)
	if math.Abs(s.estimatedDiff-s.reportedDiff) <= latencyDiffReportThreshold {
		return 0, 0, false
	}
	s.reportedDiff = s.estimatedDiff

	audio = s.targetLatency
	video = s.targetLatency
	if s.estimatedDiff > 0 {
		audio += s.estimatedDiff
	} else {
		video += -s.estimatedDiff
	}
	Log.Infof("target latencies changed. audio=%.3f, video=%.3f, diff=%.3f", audio, video, s.estimatedDiff)
	return audio, video, true
}

func (s *TargetLatenciesSynchronizer) EstimatedDiff() float64 {
	return s.estimatedDiff
}
