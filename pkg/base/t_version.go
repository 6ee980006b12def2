// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "strings"

// 版本信息相关
// 一部分版本信息使用了naza.bininfo
// 另外，我们也在本文件提供另外一些信息，打入可执行文件和日志中

// LaltsVersion 整个工程的版本号。注意，该变量由外部脚本修改维护，不要手动在代码中修改
//
const LaltsVersion = "v0.1.0"

// ConfVersion demo程序配置文件的版本号
//
const ConfVersion = "v0.1.0"

var (
	LaltsLibraryName = "lalts"
	LaltsGithubRepo  = "github.com/q191201771/lalts"
	LaltsGithubSite  = "https://github.com/q191201771/lalts"

	// LaltsFullInfo e.g. lalts v0.1.0 (github.com/q191201771/lalts)
	LaltsFullInfo = LaltsLibraryName + " " + LaltsVersion + " (" + LaltsGithubRepo + ")"

	// LaltsVersionDot e.g. 0.1.0
	LaltsVersionDot string
)

func init() {
	LaltsVersionDot = strings.TrimPrefix(LaltsVersion, "v")
}
