// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/bininfo"
	"github.com/q191201771/naza/pkg/nazalog"
	"golang.org/x/sync/errgroup"
)

// tsprobe 读取一个TS文件，走一遍 MpegtsDemuxer 和 Synchronizer，并和go-astits的解析结果交叉验证
//
// Example:
//   ./bin/tsprobe -c ./conf/tsprobe.conf.json
//   ./bin/tsprobe -c ./conf/tsprobe.conf.yaml -i ./testdata/test.ts
//

var defaultConfigFiles = []string{
	"./conf/tsprobe.conf.json",
	"./conf/tsprobe.conf.yaml",
	"../conf/tsprobe.conf.json",
	"../../../conf/tsprobe.conf.json",
}

func main() {
	defer nazalog.Sync()

	confFile, input := parseFlag()
	config := loadConf(confFile, input)
	initLog(config.LogConfig)
	base.LogoutStartInfo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := ScanWithAstits(ctx, config.Input)
	if err != nil {
		nazalog.Errorf("scan with astits failed. file=%s, err=%+v", config.Input, err)
		base.OsExitAndWaitPressIfWindows(1)
	}

	probe := NewProbe(config, summary)
	if err = run(ctx, config, probe); err != nil {
		nazalog.Errorf("run failed. err=%+v", err)
		base.OsExitAndWaitPressIfWindows(1)
	}

	stat := probe.Stat()
	ok := CrossCheck(summary, stat.Demuxer)
	b, _ := json.MarshalIndent(stat, "", "  ")
	_, _ = fmt.Fprintf(os.Stdout, "%s\n", b)
	if !ok {
		base.OsExitAndWaitPressIfWindows(2)
	}
}

// run feed协程结束后，等待缓冲输出完，再结束其他协程
func run(ctx context.Context, config *Config, probe *Probe) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return probe.RunSynchronizer(gctx)
	})
	if config.HttpApiConfig.Enable {
		server := NewHttpApiServer(config.HttpApiConfig.Addr, probe)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		if err := probe.Feed(gctx); err != nil {
			return err
		}
		probe.Drain(gctx)
		return nil
	})
	return g.Wait()
}

func parseFlag() (confFile string, input string) {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	cf := flag.String("c", "", "specify conf file, json or yaml")
	i := flag.String("i", "", "specify input ts file, override the one in conf file")
	flag.Parse()
	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LaltsFullInfo)
		os.Exit(0)
	}
	return *cf, *i
}

func loadConf(confFile string, input string) *Config {
	rawContent, confFile := base.WrapReadConfigFile(confFile, defaultConfigFiles, func() {
		_, _ = fmt.Fprintf(os.Stderr, `
Example:
  %s -c %s
`, os.Args[0], defaultConfigFiles[0])
	})
	config, err := LoadConf(confFile, rawContent)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load conf failed. file=%s err=%+v\n", confFile, err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	if input != "" {
		config.Input = input
	}
	if config.Input == "" {
		_, _ = fmt.Fprintf(os.Stderr, "input ts file not specified. use -i or the input item of conf file\n")
		base.OsExitAndWaitPressIfWindows(1)
	}
	return config
}

func initLog(opt nazalog.Option) {
	if err := nazalog.Init(func(option *nazalog.Option) {
		*option = opt
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initial log failed. err=%+v\n", err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	nazalog.Info("initial log succ.")
}
