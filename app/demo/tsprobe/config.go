// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/q191201771/lalts/pkg/avsync"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazajson"
	"github.com/q191201771/naza/pkg/nazalog"
	"gopkg.in/yaml.v3"
)

const (
	defaultChunkSize   = 1316
	defaultHttpApiAddr = ":8084"
)

type Config struct {
	ConfVersion      string  `json:"conf_version"`
	Input            string  `json:"input"`
	TargetLatencySec float64 `json:"target_latency_sec"`
	ChunkSize        int     `json:"chunk_size"`
	Realtime         bool    `json:"realtime"`

	// RemuxOutput 不为空时，将解析出的音视频帧重新封装为TS写入该文件
	RemuxOutput string `json:"remux_output"`

	HttpApiConfig HttpApiConfig  `json:"http_api"`
	LogConfig     nazalog.Option `json:"log"`
}

type HttpApiConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

// LoadConf
//
// @param confFile: 只用于根据扩展名判断格式，.yaml/.yml 为YAML，其他按JSON处理
//
func LoadConf(confFile string, rawContent []byte) (*Config, error) {
	if isYamlFile(confFile) {
		var err error
		if rawContent, err = yamlToJson(rawContent); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := json.Unmarshal(rawContent, &config); err != nil {
		return nil, err
	}
	j, err := nazajson.New(rawContent)
	if err != nil {
		return nil, err
	}

	if config.ConfVersion != base.ConfVersion {
		nazalog.Warnf("config version invalid. conf version of tsprobe=%s, conf version of config file=%s",
			base.ConfVersion, config.ConfVersion)
	}

	// 配置不存在时，设置默认值
	if !j.Exist("target_latency_sec") {
		config.TargetLatencySec = avsync.DefaultTargetLatency
	}
	if !j.Exist("chunk_size") || config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if !j.Exist("http_api.addr") {
		config.HttpApiConfig.Addr = defaultHttpApiAddr
	}
	if !j.Exist("log.level") {
		config.LogConfig.Level = nazalog.LevelInfo
	}
	if !j.Exist("log.filename") {
		config.LogConfig.Filename = "./logs/tsprobe.log"
	}
	if !j.Exist("log.is_to_stdout") {
		config.LogConfig.IsToStdout = true
	}
	if !j.Exist("log.is_rotate_daily") {
		config.LogConfig.IsRotateDaily = true
	}
	if !j.Exist("log.short_file_flag") {
		config.LogConfig.ShortFileFlag = true
	}
	if !j.Exist("log.assert_behavior") {
		config.LogConfig.AssertBehavior = nazalog.AssertError
	}

	return &config, nil
}

func isYamlFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJson YAML转换为JSON后，和JSON配置共用字段定义以及默认值的判断逻辑
func yamlToJson(rawContent []byte) ([]byte, error) {
	var m map[string]interface{}
	if err := yaml.Unmarshal(rawContent, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	return json.Marshal(m)
}
