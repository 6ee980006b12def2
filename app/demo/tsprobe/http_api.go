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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazalog"
)

type HttpApiServer struct {
	addr   string
	probe  *Probe
	router *gin.Engine
}

type statResponse struct {
	base.ApiRespBasic
	Data ProbeStat `json:"data"`
}

func NewHttpApiServer(addr string, probe *Probe) *HttpApiServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HttpApiServer{
		addr:   addr,
		probe:  probe,
		router: router,
	}
	v1 := router.Group("/api/v1")
	{
		v1.GET("/stat", s.statHandler)
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, base.ApiRespBasic{
			ErrorCode: base.ErrorCodePageNotFound,
			Desp:      base.DespPageNotFound,
		})
	})
	return s
}

// Run 阻塞直到ctx结束
func (s *HttpApiServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	nazalog.Infof("start http api server listen. addr=%s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpApiServer) Handler() http.Handler {
	return s.router
}

func (s *HttpApiServer) statHandler(c *gin.Context) {
	var resp statResponse
	resp.ErrorCode = base.ErrorCodeSucc
	resp.Desp = base.DespSucc
	resp.Data = s.probe.Stat()
	c.JSON(http.StatusOK, resp)
}
