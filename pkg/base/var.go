// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// ----- dump --------------------
var (
	// DumpMaxNumAtDebugLevel 日志级别为debug时，每个对象最多打印多少次异常数据的hex dump
	DumpMaxNumAtDebugLevel = 8

	// DumpPrefixLength hex dump时截取的数据长度
	DumpPrefixLength = 32
)
