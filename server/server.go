// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/common/util"
	"github.com/gorse-io/hybrid/config"
	"github.com/gorse-io/hybrid/logics"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// FitFunc fits a new predictor.
type FitFunc func(ctx context.Context) (*logics.Predictor, error)

// Server serves recommendations over HTTP until it is stopped by
// POST /shutdown or Shutdown.
type Server struct {
	*RestServer
	HttpServer *http.Server
	fit        FitFunc

	refitMutex   sync.Mutex
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// NewServer creates a server. fit is used by Fit and Refit.
func NewServer(cfg *config.Config, fit FitFunc) *Server {
	s := &Server{
		RestServer: NewRestServer(cfg, nil),
		fit:        fit,
		done:       make(chan struct{}),
	}
	s.HttpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.Handler(),
	}
	return s
}

// Fit the first predictor. The server must not serve before it succeeds.
func (s *Server) Fit(ctx context.Context) error {
	start := time.Now()
	predictor, err := s.fit(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	s.SetPredictor(predictor)
	FitSeconds.Set(time.Since(start).Seconds())
	return nil
}

// Refit replaces the predictor with a newly fitted one. The old predictor
// keeps serving if fitting fails.
func (s *Server) Refit(ctx context.Context) error {
	if !s.refitMutex.TryLock() {
		return errors.AlreadyExistsf("refit in progress")
	}
	defer s.refitMutex.Unlock()
	log.Logger().Info("refit predictor")
	if err := s.Fit(ctx); err != nil {
		log.Logger().Error("failed to refit predictor", zap.Error(err))
		return errors.Trace(err)
	}
	log.Logger().Info("refit predictor complete")
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.HttpServer.Addr)
	if err != nil {
		return errors.Trace(err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on the listener until the server is stopped. It
// returns after in-flight requests are drained.
func (s *Server) Serve(lis net.Listener) error {
	go func() {
		defer util.CheckPanic()
		select {
		case <-s.Stopped():
			_ = s.Shutdown()
		case <-s.done:
		}
	}()
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s", lis.Addr().String())))
	if err := s.HttpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// release the watcher and leave the server stopped
		_ = s.Shutdown()
		return errors.Trace(err)
	}
	<-s.done
	return s.shutdownErr
}

// Shutdown stops the server and waits for in-flight requests, at most
// server.shutdown_timeout.
func (s *Server) Shutdown() error {
	s.Stop()
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := s.HttpServer.Shutdown(ctx); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
			s.shutdownErr = errors.Trace(err)
		} else {
			log.Logger().Info("http server shut down")
		}
		close(s.done)
	})
	return s.shutdownErr
}
