// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indexfs/indexfs/mdserver"
	"github.com/indexfs/indexfs/metrics"
	"github.com/indexfs/indexfs/proto"
	"github.com/indexfs/indexfs/util"
)

// Config is the server process config.
type Config struct {
	mdserver.Config

	BindPort      uint32    `json:"bind_port"`
	MetricsPort   uint32    `json:"metrics_port"`
	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "indexfs.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	span, ctx := trace.StartSpanFromContext(context.Background(), "main")

	server, err := mdserver.NewMetadataServer(ctx, &cfg.Config)
	if err != nil {
		span.Fatalf("start metadata server failed: %s", errors.Detail(err))
	}

	rpcServer := mdserver.NewRPCServer(server)
	if err := rpcServer.Serve(":" + strconv.Itoa(int(cfg.BindPort))); err != nil {
		span.Fatalf("grpc listen on %d failed: %s", cfg.BindPort, err)
	}

	if cfg.MetricsPort > 0 {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(":"+strconv.Itoa(int(cfg.MetricsPort)), nil); err != nil {
				log.Errorf("metrics listener stopped: %s", err)
			}
		}()
	}

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	rpcServer.Stop()
	server.Close()
}

func initConfig(cfg *Config) {
	if cfg.BindPort == 0 {
		log.Fatalf("bind port must be set")
	}
	if cfg.StoreConfig.Path == "" {
		cfg.StoreConfig.Path = "./run/store"
	}
	if cfg.FileDir == "" {
		cfg.FileDir = "./run/files"
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}

	// a single-node config may omit the member list entirely
	if len(cfg.Members) == 0 {
		addr, err := util.GetLocalIp()
		if err != nil {
			log.Fatalf("can't get local ip address, please set the member list")
		}
		cfg.Members = []proto.Node{{ID: 0, Addr: addr, Port: cfg.BindPort}}
		cfg.NodeID = 0
	}
}

func modifyOpenFiles() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)

	if rLimit.Cur >= 102400 && rLimit.Max >= 102400 {
		return
	}

	rLimit.Cur = 1024000
	rLimit.Max = 1024000

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("setting rlimit failed: %s", err)
	}
}
